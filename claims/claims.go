// Package claims provides lightweight syntactic checks for patent claim
// lists: presence of "comprising" in claim 1, numbering continuity, minimum
// claim length, and rough antecedent-basis wording in dependent claims.
// The checks are heuristics, not a substitute for substantive review.
package claims

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var leadingNumberRe = regexp.MustCompile(`^\s*(\d+)\s*[.)]\s*(.*)$`)

// Report is the outcome of a syntax check. Issues is empty when OK is true.
type Report struct {
	OK      bool           `json:"ok"`
	Issues  []string       `json:"issues"`
	Details map[string]any `json:"details"`
}

// extractLeadingNumber splits an optional "N." or "N)" prefix from a claim.
// The returned number is -1 when no prefix is present.
func extractLeadingNumber(claim string) (int, string) {
	m := leadingNumberRe.FindStringSubmatch(claim)
	if m == nil {
		return -1, strings.TrimSpace(claim)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1, strings.TrimSpace(claim)
	}
	return n, strings.TrimSpace(m[2])
}

// Check runs every rule over the ordered claim list and collects all issues;
// rules never short-circuit each other. It is a pure function: identical
// input always yields an identical report.
func Check(claimList []string) Report {
	issues := []string{}
	details := map[string]any{}

	if len(claimList) == 0 {
		return Report{OK: false, Issues: []string{"No claims provided"}, Details: details}
	}

	// Claim 1 must recite "comprising" (numbered or unnumbered).
	_, body := extractLeadingNumber(strings.TrimSpace(claimList[0]))
	if !strings.Contains(strings.ToLower(body), "comprising") {
		issues = append(issues, "Claim 1 missing required word 'comprising'")
	}

	// Numbering continuity: when any claim carries a leading number, the
	// collected sequence must be exactly 1..n.
	var nums []int
	for _, c := range claimList {
		if n, _ := extractLeadingNumber(c); n >= 0 {
			nums = append(nums, n)
		}
	}
	if len(nums) > 0 {
		continuous := true
		for i, n := range nums {
			if n != i+1 {
				continuous = false
				break
			}
		}
		if !continuous {
			issues = append(issues, fmt.Sprintf("Claim numbering not continuous or not starting at 1: %s", formatInts(nums)))
		}
		details["numbers"] = nums
	}

	// Minimum word length per claim (1-indexed).
	var short []int
	for i, c := range claimList {
		if len(strings.Fields(c)) < 8 {
			short = append(short, i+1)
		}
	}
	if len(short) > 0 {
		issues = append(issues, fmt.Sprintf("Claims too short: %s", formatInts(short)))
	}

	// Dependent claims should reference earlier elements via "wherein",
	// "said", or a definite article.
	var dep []int
	for i, c := range claimList[1:] {
		low := strings.ToLower(c)
		if !strings.Contains(low, "wherein") && !strings.Contains(low, "said") && !strings.Contains(low, "the ") {
			dep = append(dep, i+2)
		}
	}
	if len(dep) > 0 {
		issues = append(issues, fmt.Sprintf("Dependent claims may lack antecedent basis or 'wherein' wording: %s", formatInts(dep)))
	}

	return Report{OK: len(issues) == 0, Issues: issues, Details: details}
}

// formatInts renders indices the way they appear in issue messages, e.g.
// "[1, 2, 5]".
func formatInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
