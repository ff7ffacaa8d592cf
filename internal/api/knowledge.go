package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/voicedesk/internal/domain"
)

const multipartOverhead = 1 << 20

// UploadKnowledgeBase stores a knowledge-base file and attaches it to the
// device's draft.
func (h *Handler) UploadKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	dev, ok := deviceID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.Knowledge.MaxBytes()+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusBadRequest, "knowledge base file too large")
			return
		}
		Error(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	doc, err := h.Knowledge.Save(header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := h.Wizard.Apply(r.Context(), dev, domain.DraftPatch{KnowledgeBaseRef: &doc.Ref})
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{
		"document": doc,
		"wizard":   newWizardResponse(state),
	})
}
