package invoice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultNumberTemplate is used when no template is configured.
const DefaultNumberTemplate = "INV-{YYYY}{MM}-{SEQ5}"

var paddedSeq = regexp.MustCompile(`\{SEQ(\d+)\}`)

// FormatNumber renders an invoice number from template. Supported tokens are
// {YYYY}, {YY}, {MM}, {DD}, {SEQ} and {SEQn} (sequence zero-padded to n digits).
func FormatNumber(template string, issuedAt time.Time, seq int64) (string, error) {
	if strings.TrimSpace(template) == "" {
		template = DefaultNumberTemplate
	}
	if seq <= 0 {
		return "", fmt.Errorf("invoice: sequence must be positive, got %d", seq)
	}

	out := strings.NewReplacer(
		"{YYYY}", issuedAt.Format("2006"),
		"{YY}", issuedAt.Format("06"),
		"{MM}", issuedAt.Format("01"),
		"{DD}", issuedAt.Format("02"),
		"{SEQ}", strconv.FormatInt(seq, 10),
	).Replace(template)

	out = paddedSeq.ReplaceAllStringFunc(out, func(tok string) string {
		width, err := strconv.Atoi(paddedSeq.FindStringSubmatch(tok)[1])
		if err != nil || width <= 0 || width > 18 {
			return tok
		}
		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("invoice: unresolved token in number %q", out)
	}
	return out, nil
}
