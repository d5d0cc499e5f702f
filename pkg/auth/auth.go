// Package auth gates API access on signed agent headers. Every request must
// carry the agent's address, an RFC 3339 timestamp, and a signature over the
// canonical hash of {address, timestamp}.
package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
	"github.com/renlabs-dev/prediction-swarm/pkg/signing"
)

const (
	HeaderAgentAddress = "x-agent-address"
	HeaderSignature    = "x-signature"
	HeaderTimestamp    = "x-timestamp"

	// Maximum clock skew between the request timestamp and server time.
	TimestampWindow = 5 * time.Minute

	contextKeyAgentAddress = "agent_address"
)

// challenge is the payload an agent signs to authenticate a request.
type challenge struct {
	Address   string `json:"address"`
	Timestamp string `json:"timestamp"`
}

// AgentAuthMiddleware verifies the signed agent headers and stores the
// authenticated address in the request context.
func AgentAuthMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.GetHeader(HeaderAgentAddress)
		signature := c.GetHeader(HeaderSignature)
		timestamp := c.GetHeader(HeaderTimestamp)

		if address == "" || signature == "" || timestamp == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authentication headers",
			})
			return
		}

		ts, err := time.Parse(time.RFC3339, timestamp)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid timestamp format, expected RFC 3339",
			})
			return
		}

		skew := time.Since(ts)
		if skew < 0 {
			skew = -skew
		}
		if skew > TimestampWindow {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "request timestamp outside allowed window",
			})
			return
		}

		ok, err := signing.VerifyContent(address, challenge{
			Address:   address,
			Timestamp: timestamp,
		}, signature)
		if err != nil || !ok {
			if err != nil {
				logger.WithError(err).WithField("agent_address", address).
					Warn("Agent signature verification errored")
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid agent signature",
			})
			return
		}

		normalized, err := signing.NormalizeAddress(address)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid agent address",
			})
			return
		}

		c.Set(contextKeyAgentAddress, normalized)
		c.Next()
	}
}

// GetAgentAddress returns the authenticated agent address for the request,
// or "" if the auth middleware did not run.
func GetAgentAddress(c *gin.Context) string {
	return c.GetString(contextKeyAgentAddress)
}

// GenerateAuthHeaders produces the authentication headers for an outgoing
// request signed by kp.
func GenerateAuthHeaders(kp *signing.Keypair) (map[string]string, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339)
	_, sig, err := kp.SignContent(challenge{
		Address:   kp.Address(),
		Timestamp: timestamp,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAgentAddress: kp.Address(),
		HeaderSignature:    sig,
		HeaderTimestamp:    timestamp,
	}, nil
}
