package bot

import (
	"strconv"
	"strings"

	"github.com/pendergraft/rolewarden/internal/storage"
	domain "github.com/pendergraft/rolewarden/internal/verify/domain"
)

const serviceUnavailableMessage = "The verification service is temporarily unavailable. Please try again in a few minutes."

// renderVerifyResult formats a reconciliation result for the invoking
// user. Progress toward a threshold and a transient upstream outage are
// rendered distinctly: collapsing them is how users lose trust.
func renderVerifyResult(res *domain.ReconciliationResult) string {
	var sb strings.Builder

	for _, outcome := range res.NewlySatisfied {
		sb.WriteString("🎉 **" + outcome.Target.DisplayName + "** — verified! Role granted.\n")
	}
	for _, outcome := range res.SatisfiedRoleMissing {
		sb.WriteString("🔧 **" + outcome.Target.DisplayName + "** — already verified, role restored.\n")
	}
	for _, outcome := range res.ConfirmedSatisfied {
		sb.WriteString("✅ **" + outcome.Target.DisplayName + "** — already verified.\n")
	}
	for _, outcome := range res.Unsatisfied {
		if outcome.Retryable {
			sb.WriteString("⏳ **" + outcome.Target.DisplayName + "** — could not check right now, try again later.\n")
			continue
		}
		sb.WriteString("❌ **" + outcome.Target.DisplayName + "** — not yet eligible (" + outcome.Detail + ").\n")
	}

	if sb.Len() == 0 {
		return "Nothing to verify."
	}
	return sb.String()
}

// renderStatus formats the /status overview.
func renderStatus(link *storage.IdentityLink, res *domain.ReconciliationResult) string {
	var sb strings.Builder
	sb.WriteString("Linked address: `" + link.Address + "`\n")

	satisfied := len(res.ConfirmedSatisfied) + len(res.SatisfiedRoleMissing) + len(res.NewlySatisfied)
	total := satisfied + len(res.Unsatisfied)
	sb.WriteString("Verified targets: " + strconv.Itoa(satisfied) + "/" + strconv.Itoa(total) + "\n\n")

	sb.WriteString(renderVerifyResult(res))
	return sb.String()
}
