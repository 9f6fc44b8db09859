package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/agrovale/bbhook/utils"
)

// SubjectDNHeader carries the client certificate subject when TLS is
// terminated by a fronting proxy (nginx $ssl_client_s_dn convention).
const SubjectDNHeader = "X-SSL-Client-Subject-DN"

// TrustGuard decides whether an inbound webhook call comes from the banking
// partner. With enforcement off it runs in monitoring mode: every call is
// allowed and the trust signals are only logged for audit.
type TrustGuard struct {
	enforceMTLS     bool
	allowedSubjects map[string]struct{}
	partners        *utils.PartnerNetworks
	logger          *utils.Logger
}

func NewTrustGuard(enforceMTLS bool, allowedSubjects []string, partners *utils.PartnerNetworks) *TrustGuard {
	subjects := make(map[string]struct{}, len(allowedSubjects))
	for _, subject := range allowedSubjects {
		subjects[subject] = struct{}{}
	}
	return &TrustGuard{
		enforceMTLS:     enforceMTLS,
		allowedSubjects: subjects,
		partners:        partners,
		logger:          utils.NewLogger("trust-guard"),
	}
}

func (g *TrustGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		clientIP := utils.ClientIP(r)
		isPartner, partnerEnv := g.partners.IsPartner(clientIP)

		fields := map[string]interface{}{
			"client_ip":   clientIP,
			"partner_ip":  isPartner,
			"partner_env": partnerEnv,
			"path":        r.URL.Path,
		}

		if !g.enforceMTLS {
			g.logger.Info(ctx, "trust guard in monitoring mode, allowing request", fields)
			next.ServeHTTP(w, r)
			return
		}

		if r.TLS != nil {
			// A presented certificate proves nothing on its own; the peer is
			// authorized only when the handshake verified it against the
			// configured client CA bundle.
			if len(r.TLS.VerifiedChains) == 0 {
				if !isPartner {
					g.deny(w, r, utils.ErrUntrustedPeer, "TLS peer not verified and source outside partner ranges", fields)
					return
				}
				g.logger.Warn(ctx, "TLS peer not verified but source is a partner address, allowing", fields)
				next.ServeHTTP(w, r)
				return
			}

			meta := MetadataFromCert(r.TLS.PeerCertificates[0])
			fields["cert_subject"] = meta.Subject
			if !g.subjectAllowed(meta.CommonName) {
				g.deny(w, r, utils.ErrCertSubjectDenied, "certificate subject not in allow-list", fields)
				return
			}

			g.logger.Info(ctx, "mTLS peer accepted", fields)
			next.ServeHTTP(w, r.WithContext(WithCertMetadata(ctx, meta)))
			return
		}

		if subjectDN := r.Header.Get(SubjectDNHeader); subjectDN != "" {
			meta := MetadataFromSubjectDN(subjectDN)
			fields["cert_subject"] = meta.Subject
			if !g.subjectAllowed(meta.CommonName) {
				g.deny(w, r, utils.ErrCertSubjectDenied, "forwarded certificate subject not in allow-list", fields)
				return
			}

			g.logger.Info(ctx, "forwarded client subject accepted", fields)
			next.ServeHTTP(w, r.WithContext(WithCertMetadata(ctx, meta)))
			return
		}

		if !isPartner {
			g.deny(w, r, utils.ErrUntrustedPeer, "no TLS peer information and source outside partner ranges", fields)
			return
		}

		g.logger.Info(ctx, "partner address accepted without peer certificate", fields)
		next.ServeHTTP(w, r)
	})
}

func (g *TrustGuard) subjectAllowed(commonName string) bool {
	if len(g.allowedSubjects) == 0 {
		return true
	}
	_, ok := g.allowedSubjects[commonName]
	return ok
}

func (g *TrustGuard) deny(w http.ResponseWriter, r *http.Request, apiErr *utils.APIError, reason string, fields map[string]interface{}) {
	fields["reason"] = reason
	g.logger.Warn(r.Context(), "webhook request denied", fields)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]string{"error": apiErr.Message})
}
