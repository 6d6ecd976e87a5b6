package api

type refreshQuotesPayload struct {
	InstrumentIDs []int64 `json:"instrument_ids"`
}

type tagGroupPatchPayload struct {
	Name       *string `json:"name"`
	OrderIndex *int    `json:"order_index"`
}

type tagPatchPayload struct {
	GroupID    *int64  `json:"group_id"`
	Name       *string `json:"name"`
	OrderIndex *int    `json:"order_index"`
}

type instrumentTagPayload struct {
	InstrumentID int64 `json:"instrument_id"`
	GroupID      int64 `json:"group_id"`
	TagID        int64 `json:"tag_id"`
}

type accountTagPayload struct {
	AccountID int64 `json:"account_id"`
	GroupID   int64 `json:"group_id"`
	TagID     int64 `json:"tag_id"`
}
