package backend

// Pairing status values reported by GET /api/relay/config?pairing_code=.
const (
	PairingStatusPending = "pending"
	PairingStatusClaimed = "claimed"
)

type pairingCodeRequest struct {
	RelayID string `json:"relay_id,omitempty"`
}

// PairingCodeResponse is returned by POST /api/relay/request_pairing_code.
type PairingCodeResponse struct {
	PairingCode string `json:"pairing_code"`
	RelayID     string `json:"relay_id"`
	Status      string `json:"status,omitempty"`
}

// PairingStatusResponse is returned by GET /api/relay/config?pairing_code=.
type PairingStatusResponse struct {
	Status  string `json:"status"`
	RelayID string `json:"relay_id,omitempty"`
	CoopID  string `json:"coop_id,omitempty"`
}

// RelayConfigResponse is returned by GET /api/relay/config?relay_id=.
// Absent fields decode as nil.
type RelayConfigResponse struct {
	RelayID  string  `json:"relay_id,omitempty"`
	Status   string  `json:"status,omitempty"`
	Interval *string `json:"interval"`
	RTSPURL  *string `json:"rtsp_url"`
}

type heartbeatRequest struct {
	RelayID string `json:"relay_id"`
}

// RelayStatusResponse is returned by GET /api/relay/status/read.
type RelayStatusResponse struct {
	RelayID        string  `json:"relay_id,omitempty"`
	PairedAt       *string `json:"paired_at"`
	LastSeenAt     *string `json:"last_seen_at"`
	LatestSnapshot *string `json:"latest_snapshot"`
	RTSPURL        *string `json:"rtsp_url"`
}

type snapshotCreatedRequest struct {
	ImagePath string `json:"image_path"`
}

type claimRequest struct {
	PairingCode string `json:"pairing_code"`
}

// ClaimResponse is returned by POST /api/relay/claim.
type ClaimResponse struct {
	RelayID string `json:"relay_id"`
	Status  string `json:"status"`
}

// UpdateConfigRequest is the body of POST /api/relay/config.
type UpdateConfigRequest struct {
	RelayID  string `json:"relay_id"`
	Interval string `json:"interval"`
	RTSPURL  string `json:"rtsp_url"`
}

// Snapshot is one entry of GET /api/relay/snapshots.
type Snapshot struct {
	ID        string  `json:"id"`
	CreatedAt string  `json:"created_at"`
	ImagePath *string `json:"image_path"`
}

// SnapshotRecord is the body of POST /api/snapshots (uploader notification).
type SnapshotRecord struct {
	RelayID       string `json:"relay_id"`
	ImageFilename string `json:"image_filename"`
}

// SnapshotRecordResponse is returned by POST /api/snapshots.
type SnapshotRecordResponse struct {
	SnapshotID string `json:"snapshot_id"`
	ImageURL   string `json:"image_url"`
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
