package response

type Error struct {
	Error string `json:"error" example:"message"`
}

type SubmitAsset struct {
	AssetID   string `json:"asset_id"`
	TenantID  string `json:"tenant_id"`
	ProductID string `json:"product_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type UploadTarget struct {
	SessionID string `json:"session_id"`
	WriteURL  string `json:"write_url"`
	Key       string `json:"key"`
}

type SubmitRender struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type Live struct {
	Live bool `json:"live"`
}
