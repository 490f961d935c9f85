package model

import (
	"time"

	"github.com/google/uuid"
)

// DKIM key types a Domain can hold. The signer picks its signature
// algorithm (RSA-SHA256 or Ed25519-SHA256) from this field rather than
// from the DER encoding, since PKCS#8 is ambiguous between the two.
const (
	DKIMKeyTypeRSA     = "rsa"
	DKIMKeyTypeEd25519 = "ed25519"
)

// Domain is a sender domain authorized for a tenant (optionally scoped to
// a project). It owns the DKIM keypair used to sign outbound mail from
// that domain and any of its subdomains.
type Domain struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	TenantID    uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	ProjectID   *uuid.UUID `json:"project_id,omitempty" db:"project_id"`
	FQDN        string     `json:"fqdn" db:"fqdn"`
	DKIMKeyDER  []byte     `json:"-" db:"dkim_key_der"`
	DKIMKeyType string     `json:"dkim_key_type" db:"dkim_key_type"`
	// DKIMPublicKeyDER is the DER-encoded public key half, published at
	// remails._domainkey.<fqdn> and compared byte-exact by the DNS client.
	DKIMPublicKeyDER []byte    `json:"dkim_public_key_der" db:"dkim_public_key_der"`
	DKIMSelector     string    `json:"dkim_selector" db:"dkim_selector"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// DomainDNSRecord is a DNS record a tenant must publish for a Domain.
// The list is built by engine.GenerateDNSRecords (C1 DNS client) and
// served by the management API; the C1 verification helpers
// (VerifySPF/VerifyDKIM/VerifyDMARC) check records of this shape.
type DomainDNSRecord struct {
	RecordType string // SPF, DKIM, MX, DMARC, RETURN_PATH
	DNSType    string // TXT, MX, CNAME, A, AAAA
	Name       string
	Value      string
	Priority   *int
}
