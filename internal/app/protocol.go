// Package app is the sample game protocol run by cmd/rakpeer: the server
// asks every new client for its player name, stores it, and answers with an
// edited copy. Servers also publish a small msgpack document on the query
// endpoint.
package app

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/1ureka/rakpeer/internal/protocol"
)

// Sample packet identifiers, allocated from the first user id.
const (
	PacketDataRequest  = protocol.UserPacketEnum + iota // server → client: send your data
	PacketDataReply                                     // client → server: player name
	PacketDataAccepted                                  // server → client: edited name
)

// ServerInfo is the query response of a sample server.
type ServerInfo struct {
	Name           string   `msgpack:"name"`
	Players        []string `msgpack:"players"`
	MaxConnections int      `msgpack:"max"`
	Password       bool     `msgpack:"password"`
	Version        uint8    `msgpack:"version"`
}

// Encode serializes i for SetQueryResponse.
func (i ServerInfo) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(&i)
	if err != nil {
		return nil, fmt.Errorf("failed to encode server info: %w", err)
	}
	return data, nil
}

// DecodeServerInfo parses a query response.
func DecodeServerInfo(data []byte) (ServerInfo, error) {
	var i ServerInfo
	if err := msgpack.Unmarshal(data, &i); err != nil {
		return ServerInfo{}, fmt.Errorf("failed to decode server info: %w", err)
	}
	return i, nil
}
