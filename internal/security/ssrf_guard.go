package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService は外向き通信先の検証とHTTPクライアント生成を行う。
type SSRFGuardService interface {
	// NewSafeClient は接続時に解決後のIPを検証するHTTPクライアントを返す。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はエンドポイントURLをDNS解決なしで検証する。
	ValidateURL(rawURL string) error
}

// 解析エンドポイントにはAPIキーを送るため、https:443以外は許可しない。
const (
	allowedScheme = "https"
	allowedPort   = 443
)

var (
	ErrUnsafeScheme = errors.New("unsafe scheme")
	ErrUnsafePort   = errors.New("unsafe port")
	ErrUnsafeHost   = errors.New("unsafe host")
)

var blockedPrefixes = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10", // CGNAT
	"127.0.0.0/8",
	"169.254.0.0/16", // メタデータIPを含む
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::/128",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

// 内部向けのホスト名。完全一致または接尾辞で判定する。
var (
	blockedHosts    = []string{"localhost", "metadata.google.internal"}
	blockedSuffixes = []string{".localhost", ".local", ".internal"}
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はsafeurlでラップしたクライアントを返す。
// DNS解決後のIPはDialerのControlフックで検証されるため、リバインディングにも効く。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedScheme).
		SetAllowedPorts(allowedPort).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はGEMINI_ENDPOINTを起動時に検証する。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrUnsafeHost)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !strings.EqualFold(u.Scheme, allowedScheme) {
		return fmt.Errorf("%w: %q", ErrUnsafeScheme, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: userinfo is not allowed", ErrUnsafeHost)
	}
	if port := u.Port(); port != "" && port != fmt.Sprint(allowedPort) {
		return fmt.Errorf("%w: %s", ErrUnsafePort, port)
	}
	return checkHost(u.Hostname())
}

func checkHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeHost)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, p := range blockedPrefixes {
			if p.Contains(addr) {
				return fmt.Errorf("%w: %s is in %s", ErrUnsafeHost, addr, p)
			}
		}
		return nil
	}

	name := strings.TrimSuffix(strings.ToLower(host), ".")
	for _, h := range blockedHosts {
		if name == h {
			return fmt.Errorf("%w: %s", ErrUnsafeHost, host)
		}
	}
	for _, s := range blockedSuffixes {
		if strings.HasSuffix(name, s) {
			return fmt.Errorf("%w: %s", ErrUnsafeHost, host)
		}
	}

	// 2130706433 や 0x7f.1 のような省略表記はリゾルバによってはIPとして解釈される。
	labels := strings.Split(name, ".")
	if tld := labels[len(labels)-1]; isNumericLabel(tld) {
		return fmt.Errorf("%w: numeric host %s", ErrUnsafeHost, host)
	}
	return nil
}

func isNumericLabel(label string) bool {
	if label == "" {
		return false
	}
	if strings.HasPrefix(label, "0x") {
		return true
	}
	for _, r := range label {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
