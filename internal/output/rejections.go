package output

import (
	"bytes"
	"strings"

	"github.com/ignite/lead-consolidator/internal/datanorm"
)

// ContentTypeLog is the media type of the rejection logs.
const ContentTypeLog = "text/plain; charset=utf-8"

var fieldCleaner = strings.NewReplacer("|", "/", "\r", " ", "\n", " ")

// RenderRejections writes one "record|status|value|reason" line per entry,
// in the order given, with no header. For transactions that is
// transaction_id|status|amount|reason; for web activity it is
// #seq|user_uuid|page_views|reason. Pipes and line breaks inside a field
// are replaced so every entry stays on one line with four fields.
func RenderRejections(entries []datanorm.RejectionEntry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(fieldCleaner.Replace(e.RecordID))
		buf.WriteByte('|')
		buf.WriteString(fieldCleaner.Replace(e.Status))
		buf.WriteByte('|')
		buf.WriteString(fieldCleaner.Replace(e.Value))
		buf.WriteByte('|')
		buf.WriteString(fieldCleaner.Replace(e.Reason))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
