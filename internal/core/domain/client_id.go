package domain

import (
	"strconv"
	"strings"
)

const (
	// ClientIDSeparator separates a base client id from its reconnect order.
	ClientIDSeparator = "_"
	// DumpSuffix is appended to a client id to name its archived dump.
	DumpSuffix = ".gz"
)

// SplitClientID splits "abc_3" into ("abc", 3). A missing or non numeric
// order yields 0; only the first separator is significant.
func SplitClientID(clientID string) (string, int) {
	parts := strings.SplitN(clientID, ClientIDSeparator, 3)
	base := parts[0]
	if len(parts) < 2 {
		return base, 0
	}
	order, err := strconv.Atoi(parts[1])
	if err != nil || order < 0 {
		return base, 0
	}
	return base, order
}

// JoinClientID builds the client id for the given reconnect order.
func JoinClientID(base string, order int) string {
	return base + ClientIDSeparator + strconv.Itoa(order)
}

// DumpID returns the archive key of a client id.
func DumpID(clientID string) string {
	return clientID + DumpSuffix
}
