package utils

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/sitepress-engine/models"
)

// SiteSlug returns the object-store prefix and subdomain for a deployment.
// Production deployments reuse the bare project slug so DNS and service
// records stay stable across redeploys. Previews append a short deterministic
// suffix derived from the deployment ID so multiple previews coexist.
func SiteSlug(projectSlug, deploymentID string, deployType models.DeploymentType) string {
	if deployType == models.DeploymentTypeProduction {
		return projectSlug
	}
	return projectSlug + "-" + ShortHash(deploymentID)
}

// ShortHash derives a stable 8-character suffix from an identifier
func ShortHash(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:8]
}
