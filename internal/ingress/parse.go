package ingress

import (
	"crypto/sha256"
	"encoding/base64"
	"net/mail"
	"strings"

	"github.com/remails-com/remails/internal/model"
)

// senderDomain returns the lowercased domain part of an email address, or
// "" if it has none.
func senderDomain(address string) string {
	_, domain, ok := strings.Cut(address, "@")
	if !ok {
		return ""
	}
	return strings.ToLower(domain)
}

// hasMessageID reports whether a parsed message already carries a
// Message-Id header. A nil msg (parse failure) never does.
func hasMessageID(msg *mail.Message) bool {
	return msg != nil && msg.Header.Get("Message-Id") != ""
}

// injectMessageID prepends a synthesized Message-ID header to raw, in the
// form Message-ID: <REMAILS-{base64url(sha224(raw))}@{domain}>\r\n. The
// hash is taken over the message as submitted, before this header exists.
func injectMessageID(raw []byte, domain string) []byte {
	hash := sha256.Sum224(raw)
	encoded := base64.RawURLEncoding.EncodeToString(hash[:])

	header := "Message-ID: <REMAILS-" + encoded + "@" + domain + ">\r\n"

	buf := make([]byte, 0, len(header)+len(raw))
	buf = append(buf, header...)
	buf = append(buf, raw...)
	return buf
}

// headerMap flattens a parsed message's headers into the lenient JSON view
// stored on the row. A nil msg (parse failure) produces an empty map.
func headerMap(msg *mail.Message) model.JSONMap {
	headers := make(model.JSONMap)
	if msg == nil {
		return headers
	}
	for key, values := range msg.Header {
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = values
		}
	}
	return headers
}

// allowedDomainChars restricts a domain to RFC 1035's alphabet, which
// blocks "gmail.com/authorized-domain.com" style path/query suffix evasion
// of the suffix check below.
func allowedDomainChars(domain string) bool {
	if domain == "" {
		return false
	}
	for _, c := range domain {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '.') {
			return false
		}
	}
	return true
}

// isAuthorizedDomain reports whether candidate is the authorized domain
// itself or one of its subdomains: a byte-exact suffix match restricted to
// a legal domain alphabet on both sides.
func isAuthorizedDomain(candidate, authorized string) bool {
	if !allowedDomainChars(candidate) || !allowedDomainChars(authorized) {
		return false
	}
	return candidate == authorized || strings.HasSuffix(candidate, "."+authorized)
}

// checkDomainAuthority runs §4.6 step 4: the envelope sender, every From
// address, and any Return-Path must all fall under the domain the
// credential is authorized for.
func checkDomainAuthority(msg *model.Message, parsed *mail.Message, domain *model.Domain) (reason string, ok bool) {
	sender := senderDomain(msg.FromEmail)
	if !isAuthorizedDomain(sender, domain.FQDN) {
		return "MAIL FROM domain (" + sender + ") is not a valid (sub-)domain of " + domain.FQDN, false
	}

	if parsed == nil {
		return "", true
	}

	if fromHeader := parsed.Header.Get("From"); fromHeader != "" {
		addresses, err := mail.ParseAddressList(fromHeader)
		if err == nil {
			for _, addr := range addresses {
				d := senderDomain(addr.Address)
				if !isAuthorizedDomain(d, domain.FQDN) {
					return "From domain (" + d + ") is not a valid (sub-)domain of " + domain.FQDN, false
				}
			}
		}
	}

	if returnPath := parsed.Header.Get("Return-Path"); returnPath != "" {
		addr, err := mail.ParseAddress(strings.Trim(returnPath, "<> "))
		if err == nil {
			d := senderDomain(addr.Address)
			if !isAuthorizedDomain(d, domain.FQDN) {
				return "Return-Path domain (" + d + ") is not a valid (sub-)domain of " + domain.FQDN, false
			}
		}
	}

	return "", true
}
