package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"strings"
	"time"
)

// CertMetadata is the normalized view of a validated client certificate,
// attached to the request context for audit persistence.
type CertMetadata struct {
	Subject      string `json:"subject"`
	CommonName   string `json:"common_name"`
	Issuer       string `json:"issuer,omitempty"`
	ValidFrom    string `json:"valid_from,omitempty"`
	ValidTo      string `json:"valid_to,omitempty"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

type certMetadataKey struct{}

func WithCertMetadata(ctx context.Context, meta *CertMetadata) context.Context {
	return context.WithValue(ctx, certMetadataKey{}, meta)
}

func CertMetadataFromContext(ctx context.Context) *CertMetadata {
	if meta, ok := ctx.Value(certMetadataKey{}).(*CertMetadata); ok {
		return meta
	}
	return nil
}

// ParseSubjectCN extracts the common name from a distinguished-name string
// of the form "CN=partner.example,O=Org,C=BR". Separators vary between
// proxies, so both "," and "/" are accepted.
func ParseSubjectCN(subject string) string {
	fields := strings.FieldsFunc(subject, func(r rune) bool {
		return r == ',' || r == '/'
	})
	for _, field := range fields {
		kv := strings.SplitN(strings.TrimSpace(field), "=", 2)
		if len(kv) == 2 && strings.EqualFold(kv[0], "CN") {
			return strings.TrimSpace(kv[1])
		}
	}
	return ""
}

// SubjectCN returns the common name from either representation the
// transport provides: the structured pkix name when the certificate was
// parsed locally, or its string rendering otherwise.
func SubjectCN(name pkix.Name) string {
	if name.CommonName != "" {
		return name.CommonName
	}
	return ParseSubjectCN(name.String())
}

// MetadataFromCert normalizes a verified peer certificate for audit.
func MetadataFromCert(cert *x509.Certificate) *CertMetadata {
	sum := sha256.Sum256(cert.Raw)
	return &CertMetadata{
		Subject:      cert.Subject.String(),
		CommonName:   SubjectCN(cert.Subject),
		Issuer:       cert.Issuer.String(),
		ValidFrom:    cert.NotBefore.Format(time.RFC3339),
		ValidTo:      cert.NotAfter.Format(time.RFC3339),
		Fingerprint:  hex.EncodeToString(sum[:]),
		SerialNumber: cert.SerialNumber.String(),
	}
}

// MetadataFromSubjectDN builds partial metadata when only a forwarded
// subject string is available (TLS terminated upstream).
func MetadataFromSubjectDN(subject string) *CertMetadata {
	return &CertMetadata{
		Subject:    subject,
		CommonName: ParseSubjectCN(subject),
	}
}
