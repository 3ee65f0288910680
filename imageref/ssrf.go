package imageref

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benoitkugler/okcanvas/internal/domain"
)

// privateRanges lists all private/reserved CIDR blocks a remote image
// may not be fetched from.
var privateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var parsedRanges []*net.IPNet

func init() {
	for _, cidr := range privateRanges {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
		parsedRanges = append(parsedRanges, ipnet)
	}
}

// IsPrivateIP checks if an IP falls within any private/reserved range.
func IsPrivateIP(ip net.IP) bool {
	// Normalize IPv4-mapped IPv6 to IPv4
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, ipnet := range parsedRanges {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

// ValidateURL checks that rawURL is an absolute http(s) URL. When
// allowPrivate is false, literal private addresses are rejected too;
// host names are checked when dialing.
func ValidateURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.NewError("ValidateURL", domain.ErrFetchBlocked, fmt.Sprintf("invalid URL: %v", err))
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return domain.NewError("ValidateURL", domain.ErrFetchBlocked, "missing URL scheme, only http/https allowed")
	default:
		return domain.NewError("ValidateURL", domain.ErrFetchBlocked, fmt.Sprintf("scheme %q not allowed, only http/https", u.Scheme))
	}
	host := u.Hostname()
	if host == "" {
		return domain.NewError("ValidateURL", domain.ErrFetchBlocked, "empty hostname")
	}
	if ip := net.ParseIP(host); ip != nil && !allowPrivate && IsPrivateIP(ip) {
		return domain.NewError("ValidateURL", domain.ErrFetchBlocked, fmt.Sprintf("IP %s is private/reserved", ip))
	}
	return nil
}

// newTransport returns the transport used to fetch images.
// Unless allowPrivate is set, it validates the resolved IPs at dial
// time and connects directly to the validated IP, so that a DNS answer
// can't change between validation and connection.
func newTransport(allowPrivate bool, timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	t := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConnsPerHost:   4,
	}
	if allowPrivate {
		return t
	}
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, domain.NewError("imageref.Dial", err, fmt.Sprintf("DNS lookup failed for %s", host))
		}
		if len(ips) == 0 {
			return nil, domain.NewError("imageref.Dial", fmt.Errorf("no IPs resolved"), host)
		}
		// Validate ALL resolved IPs
		for _, ip := range ips {
			if IsPrivateIP(ip.IP) {
				return nil, domain.NewError("imageref.Dial", domain.ErrFetchBlocked,
					fmt.Sprintf("%s resolves to private IP %s", host, ip.IP))
			}
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
	}
	return t
}
