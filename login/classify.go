package login

import (
	"net/url"
	"strings"
)

// URLKind classifies a URL the authorization surface navigated to.
type URLKind int

const (
	KindOther URLKind = iota
	// KindGrant is the page shown once the user granted access.
	KindGrant
	// KindTokenIssuance is the page that issues the app token.
	KindTokenIssuance
)

func (k URLKind) String() string {
	switch k {
	case KindGrant:
		return "grant"
	case KindTokenIssuance:
		return "token-issuance"
	default:
		return "other"
	}
}

const indexPrefix = "/index.php"

// Classify reports whether u is a grant or token issuance page. Such pages
// never carry a query or fragment; any URL that does is KindOther so a server
// cannot pass parameters through the grant step.
func Classify(u *url.URL) URLKind {
	if u == nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" || u.RawFragment != "" {
		return KindOther
	}
	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		return KindOther
	}
	if p == indexPrefix || strings.HasPrefix(p, indexPrefix+"/") {
		p = p[len(indexPrefix):]
	}
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return KindOther
	}
	switch p[i+1:] {
	case "grant":
		return KindGrant
	case "apptoken":
		return KindTokenIssuance
	default:
		return KindOther
	}
}

// ClassifyString parses raw first; unparsable input is KindOther.
func ClassifyString(raw string) URLKind {
	u, err := url.Parse(raw)
	if err != nil {
		return KindOther
	}
	return Classify(u)
}
