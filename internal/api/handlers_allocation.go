package api

import (
	"net/http"

	"foliocore/pkg/foliocore"
)

// Allocation nodes.

func (h *handler) getNodes(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.GetNodes(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) createNode(w http.ResponseWriter, r *http.Request) {
	var payload foliocore.CreateNodeRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	node, err := h.core.CreateNode(r.Context(), payload)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (h *handler) updateNode(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var patch foliocore.NodePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	node, err := h.core.UpdateNode(r.Context(), id, patch)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *handler) batchUpdateWeights(w http.ResponseWriter, r *http.Request) {
	var payload foliocore.BatchWeightsRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	nodes, err := h.core.BatchUpdateWeights(r.Context(), payload)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (h *handler) deleteNode(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.core.DeleteNode(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Tag groups.

func (h *handler) getTagGroups(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.GetTagGroups(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) createTagGroup(w http.ResponseWriter, r *http.Request) {
	var payload foliocore.TagGroup
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	group, err := h.core.CreateTagGroup(r.Context(), payload)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (h *handler) updateTagGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var payload tagGroupPatchPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	group, err := h.core.UpdateTagGroup(r.Context(), id, payload.Name, payload.OrderIndex)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *handler) deleteTagGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.core.DeleteTagGroup(r.Context(), id); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Tags.

func (h *handler) getTags(w http.ResponseWriter, r *http.Request) {
	groupID := parseInt64(r.URL.Query().Get("group_id"))
	result, err := h.core.GetTags(r.Context(), groupID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) createTag(w http.ResponseWriter, r *http.Request) {
	var payload foliocore.Tag
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tag, err := h.core.CreateTag(r.Context(), payload)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

func (h *handler) updateTag(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var payload tagPatchPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tag, err := h.core.UpdateTag(r.Context(), id, payload.GroupID, payload.Name, payload.OrderIndex)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

func (h *handler) deleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.core.DeleteTag(r.Context(), id); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Tag selections.

func (h *handler) getInstrumentTags(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.GetInstrumentTags(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) upsertInstrumentTag(w http.ResponseWriter, r *http.Request) {
	var payload instrumentTagPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	selection, err := h.core.UpsertInstrumentTag(r.Context(), payload.InstrumentID, payload.GroupID, payload.TagID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selection)
}

func (h *handler) deleteInstrumentTag(w http.ResponseWriter, r *http.Request) {
	instrumentID, ok := parseID(w, r, "instrumentID")
	if !ok {
		return
	}
	groupID, ok := parseID(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.core.DeleteInstrumentTag(r.Context(), instrumentID, groupID); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *handler) getAccountTags(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.GetAccountTags(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) upsertAccountTag(w http.ResponseWriter, r *http.Request) {
	var payload accountTagPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	selection, err := h.core.UpsertAccountTag(r.Context(), payload.AccountID, payload.GroupID, payload.TagID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selection)
}

func (h *handler) deleteAccountTag(w http.ResponseWriter, r *http.Request) {
	accountID, ok := parseID(w, r, "accountID")
	if !ok {
		return
	}
	groupID, ok := parseID(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.core.DeleteAccountTag(r.Context(), accountID, groupID); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
