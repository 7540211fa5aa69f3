package rpc

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

var ErrInvalidAddr = errors.New("invalid address")

// ParseListenAddr accepts host:port or a TCP multiaddr and returns host:port.
func ParseListenAddr(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultListenAddr, nil
	}
	if !strings.HasPrefix(raw, "/") {
		if _, _, err := net.SplitHostPort(raw); err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddr, raw, err)
		}
		return raw, nil
	}
	maddr, err := ma.NewMultiaddr(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddr, raw, err)
	}
	addr, err := manet.ToNetAddr(maddr)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddr, raw, err)
	}
	if _, ok := addr.(*net.TCPAddr); !ok {
		return "", fmt.Errorf("%w: %q is not a tcp address", ErrInvalidAddr, raw)
	}
	return addr.String(), nil
}

// ResolveEndpoint turns an http(s) URL, host:port or multiaddr such as
// /ip4/127.0.0.1/tcp/8787/http into the URL of the /rpc handler.
func ResolveEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", fmt.Errorf("%w: empty endpoint", ErrInvalidAddr)
	case strings.HasPrefix(raw, "/"):
		return endpointFromMultiaddr(raw)
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddr, raw)
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = "/rpc"
		}
		return u.String(), nil
	default:
		if _, _, err := net.SplitHostPort(raw); err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddr, raw, err)
		}
		return "http://" + raw + "/rpc", nil
	}
}

func endpointFromMultiaddr(raw string) (string, error) {
	maddr, err := ma.NewMultiaddr(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddr, raw, err)
	}
	var host string
	for _, code := range []int{ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6} {
		if v, err := maddr.ValueForProtocol(code); err == nil {
			host = v
			break
		}
	}
	port, err := maddr.ValueForProtocol(ma.P_TCP)
	if host == "" || err != nil {
		return "", fmt.Errorf("%w: %q needs a host and a tcp port", ErrInvalidAddr, raw)
	}
	scheme := "http"
	if _, err := maddr.ValueForProtocol(ma.P_HTTPS); err == nil {
		scheme = "https"
	}
	if _, err := maddr.ValueForProtocol(ma.P_TLS); err == nil {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(host, port) + "/rpc", nil
}
