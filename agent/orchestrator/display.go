package orchestrator

import (
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/chatctx"
)

// PatientContextBlock renders the PT_CTX footer shown under agent replies.
func PatientContextBlock(cc *chatctx.ChatContext) string {
	var b strings.Builder
	b.WriteString("\n\n---\n*PT_CTX:*\n")
	fmt.Fprintf(&b, "- **Session ID:** `%s`\n", cc.ConversationID)
	if cc.PatientID != "" {
		fmt.Fprintf(&b, "- **Patient ID:** `%s`\n", cc.PatientID)
	} else {
		b.WriteString("- *No active patient.*\n")
	}
	if ids := cc.KnownPatientIDs(); len(ids) > 0 {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = "`" + id + "`"
			if id == cc.PatientID {
				parts[i] += " (active)"
			}
		}
		b.WriteString("- **Session Patients:** ")
		b.WriteString(strings.Join(parts, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// AppendLinks adds pending images and clinical trials to text and clears
// both lists.
func AppendLinks(text string, cc *chatctx.ChatContext) string {
	var b strings.Builder
	b.WriteString(text)
	if imgs := cc.TakeDisplayImageURLs(); len(imgs) > 0 {
		b.WriteString("<h2>Patient Images</h2>")
		for _, u := range imgs {
			fmt.Fprintf(&b, "<img src='%s' alt='%s' height='300px'/>", u, path.Base(u))
		}
	}
	if trials := cc.TakeDisplayClinicalTrials(); len(trials) > 0 {
		b.WriteString("<h2>Clinical trials</h2>")
		for _, u := range trials {
			fmt.Fprintf(&b, "<li><a href='%s'>%s</a></li>", u, path.Base(u))
		}
	}
	return b.String()
}

// augment decorates an agent reply for display. Nothing here touches history.
func (o *Orchestrator) augment(content string, cc *chatctx.ChatContext) string {
	text := content
	if !strings.Contains(text, "PT_CTX:") {
		text += PatientContextBlock(cc)
	}
	text = AppendLinks(text, cc)

	blobs := cc.TakeDisplayBlobURLs()
	if o.signer == nil {
		return text
	}
	for _, raw := range blobs {
		signed, err := o.signer.Sign(raw)
		if err != nil {
			o.logger.Warn("failed to sign blob url", zap.String("url", raw), zap.Error(err))
			continue
		}
		text = strings.ReplaceAll(text, raw, signed)
	}
	return text
}
