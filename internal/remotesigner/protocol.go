package remotesigner

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	ma "github.com/multiformats/go-multiaddr"

	"keyhaven/internal/keys"
)

// URIScheme prefixes connection URIs: khconnect://<peer-id>?relay=<addr>
const URIScheme = "khconnect"

const (
	MethodConnect      = "connect"
	MethodDescribe     = "describe"
	MethodGetPublicKey = "get_public_key"
	MethodSignEvent    = "sign_event"
)

// Capabilities is the fixed method list returned for describe.
var Capabilities = []string{MethodDescribe, MethodGetPublicKey, MethodSignEvent}

var (
	ErrInvalidURI   = errors.New("invalid connection uri")
	ErrInvalidRelay = errors.New("invalid relay address")
)

// Request is one protocol message from peer to signer.
type Request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// Response echoes a request id and carries a result or an error,
// never both.
type Response struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ConnectInfo is the parsed form of a connection URI.
type ConnectInfo struct {
	PeerID string
	Relay  string
}

// ParseConnectURI validates a khconnect URI. The authority part is
// parsed by hand: base58 identifiers are case-sensitive and must not
// go through the usual host normalization.
func ParseConnectURI(raw string) (ConnectInfo, error) {
	raw = strings.TrimSpace(raw)
	rest, ok := strings.CutPrefix(raw, URIScheme+"://")
	if !ok {
		return ConnectInfo{}, ErrInvalidURI
	}
	peerPart, queryPart, _ := strings.Cut(rest, "?")
	if peerPart == "" {
		return ConnectInfo{}, ErrInvalidURI
	}
	peerPub, err := keys.DecodePublic(peerPart)
	if err != nil {
		return ConnectInfo{}, fmt.Errorf("%w: bad peer identifier", ErrInvalidURI)
	}

	query, err := url.ParseQuery(queryPart)
	if err != nil {
		return ConnectInfo{}, ErrInvalidURI
	}
	relayAddr := strings.TrimSpace(query.Get("relay"))
	if relayAddr == "" {
		return ConnectInfo{}, fmt.Errorf("%w: relay parameter is required", ErrInvalidURI)
	}
	if !validRelayAddr(relayAddr) {
		return ConnectInfo{}, ErrInvalidRelay
	}

	return ConnectInfo{PeerID: keys.EncodePublic(peerPub), Relay: relayAddr}, nil
}

// ConnectURI renders the URI a peer uses to reach this signer session.
func ConnectURI(peerID, relayAddr string) string {
	return URIScheme + "://" + peerID + "?relay=" + url.QueryEscape(relayAddr)
}

func validRelayAddr(addr string) bool {
	if _, err := ma.NewMultiaddr(addr); err == nil {
		return true
	}
	_, _, err := net.SplitHostPort(addr)
	return err == nil
}

func encodeMessage(v any) []byte {
	out, _ := json.Marshal(v)
	return out
}
