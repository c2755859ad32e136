package review

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/typedai/typedai/scm"
)

// UnitFingerprint identifies one (project, MR, file, rule, content) review
// unit. The content hash covers the code without line annotations, so a
// rebase or re-push that leaves the file content unchanged still hits the
// cache, and a rule version bump invalidates prior clean verdicts.
func UnitFingerprint(projectID string, mrIID int64, file, ruleID, ruleVersion, codeWithoutLines string) string {
	content := sha256.Sum256([]byte(codeWithoutLines))
	seed := fmt.Sprintf("prj:%s|mr:%d|file:%s|rule:%s|ruleVer:%s|content:%s",
		projectID, mrIID, file, ruleID, ruleVersion, hex.EncodeToString(content[:]))
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// ContextHash condenses a violation's surroundings into a short stable token:
// sha1 over rule, file, line and the nearby code, truncated to 16 hex chars.
func ContextHash(ruleID, file string, line int, contextLines string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d|%s", ruleID, file, line, contextLines)))
	return hex.EncodeToString(sum[:])[:16]
}

// ViolationIdentifier is the marker embedded in every bot comment so repeated
// runs recognize violations they already posted.
func ViolationIdentifier(ruleID, file, contextHash string) string {
	return fmt.Sprintf("bot-review-id: rule=%s, file=%s, contextHash=%s", ruleID, file, contextHash)
}

// CommentBody wraps the comment text with its hidden identifier.
func CommentBody(identifier, comment string) string {
	return fmt.Sprintf("<!-- %s -->\n\n%s", identifier, comment)
}

var identifierPattern = regexp.MustCompile(`bot-review-id: rule=[^,]+, file=[^,]+, contextHash=[0-9a-f]+`)

// ExistingIdentifiers scans discussion notes for embedded violation
// identifiers. When botUserID is non-zero only that author's notes are
// considered.
func ExistingIdentifiers(discussions []scm.Discussion, botUserID int64) map[string]struct{} {
	out := make(map[string]struct{})
	for _, d := range discussions {
		for _, note := range d.Notes {
			if botUserID != 0 && note.AuthorID != botUserID {
				continue
			}
			for _, match := range identifierPattern.FindAllString(note.Body, -1) {
				out[match] = struct{}{}
			}
		}
	}
	return out
}
