package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"harvest/internal/collector"
	"harvest/internal/datastore"
	"harvest/internal/logging"
)

const maxAPIItems = 500

type apiStatus struct {
	Running       bool      `json:"running"`
	LockFile      string    `json:"lock_file"`
	StoreDir      string    `json:"store_dir"`
	CollectionDir string    `json:"collection_dir"`
	Collectors    int       `json:"collectors"`
	DrainEnabled  bool      `json:"drain_enabled"`
	Store         apiStats  `json:"store"`
	Time          time.Time `json:"time"`
}

type apiStats struct {
	Total    int   `json:"total"`
	Uploaded int   `json:"uploaded"`
	Pending  int   `json:"pending"`
	Retried  int   `json:"retried"`
	Bytes    int64 `json:"bytes"`
}

type apiCollector struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Anchor     string     `json:"anchor,omitempty"`
	CursorTime *time.Time `json:"cursor_time,omitempty"`
}

type apiItem struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind"`
	CreatedAt      time.Time      `json:"created_at"`
	Uploaded       bool           `json:"uploaded"`
	RetryCount     int            `json:"retry_count"`
	LastUploadDate *time.Time     `json:"last_upload_date,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// registerAPI mounts the JSON API next to the metrics handler. Every route is
// guarded by the configured bearer token.
func (d *Daemon) registerAPI(mux *http.ServeMux) {
	token := d.cfg.Metrics.APIToken
	mux.HandleFunc("GET /api/status", authMiddleware(token, d.handleStatus))
	mux.HandleFunc("GET /api/collectors", authMiddleware(token, d.handleCollectors))
	mux.HandleFunc("GET /api/items", authMiddleware(token, d.handleItems))
	mux.HandleFunc("POST /api/collect", authMiddleware(token, d.handleCollect))
	mux.HandleFunc("POST /api/drain", authMiddleware(token, d.handleDrain))
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := d.store.Stats(r.Context())
	if err != nil {
		d.logger.Warn("status stats failed", logging.Error(err))
		writeAPIError(w, http.StatusInternalServerError, "store stats unavailable")
		return
	}
	status := d.Status()
	writeAPIJSON(w, http.StatusOK, apiStatus{
		Running:       status.Running,
		LockFile:      status.LockFilePath,
		StoreDir:      status.StoreDir,
		CollectionDir: status.CollectionDir,
		Collectors:    status.Collectors,
		DrainEnabled:  d.drainer != nil,
		Store: apiStats{
			Total:    stats.Total,
			Uploaded: stats.Uploaded,
			Pending:  stats.Pending,
			Retried:  stats.Retried,
			Bytes:    stats.Bytes,
		},
		Time: time.Now().UTC(),
	})
}

func (d *Daemon) handleCollectors(w http.ResponseWriter, _ *http.Request) {
	collectors := d.manager.Collectors()
	views := make([]apiCollector, 0, len(collectors))
	for _, c := range collectors {
		views = append(views, collectorView(c))
	}
	writeAPIJSON(w, http.StatusOK, views)
}

func collectorView(c *collector.Collector) apiCollector {
	cursor := c.Cursor()
	view := apiCollector{ID: c.Identifier(), Kind: string(c.Kind()), Anchor: cursor.Anchor}
	if !cursor.Timestamp.IsZero() {
		ts := cursor.Timestamp.UTC()
		view.CursorTime = &ts
	}
	return view
}

// handleItems lists staged items. Query parameters: exclude (repeatable:
// uploaded, not-uploaded, retried, never-retried), sort, desc, limit.
func (d *Daemon) handleItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := datastore.EnumerateOptions{Ascending: true}
	exclusion, err := datastore.ParseExclusion(query["exclude"]...)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.Exclude = exclusion
	if raw := query.Get("sort"); raw != "" {
		key, err := datastore.ParseSortKey(raw)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.SortBy = key
	}
	if desc, _ := strconv.ParseBool(query.Get("desc")); desc {
		opts.Ascending = false
	}
	limit := maxAPIItems
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeAPIError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAPIItems)
	}

	items := make([]apiItem, 0)
	err = d.store.Enumerate(r.Context(), opts, func(item *datastore.Item) bool {
		tracker := item.Tracker()
		items = append(items, apiItem{
			ID:             item.Identifier(),
			Kind:           string(item.Kind()),
			CreatedAt:      item.CreatedAt(),
			Uploaded:       tracker.Uploaded(),
			RetryCount:     tracker.RetryCount(),
			LastUploadDate: tracker.LastUploadDate(),
			Metadata:       item.Metadata(),
		})
		return len(items) < limit
	})
	if err != nil {
		d.logger.Warn("item listing failed", logging.Error(err))
		writeAPIError(w, http.StatusInternalServerError, "item listing failed")
		return
	}
	writeAPIJSON(w, http.StatusOK, items)
}

func (d *Daemon) handleCollect(w http.ResponseWriter, _ *http.Request) {
	d.manager.RunPassiveCollectionPass()
	writeAPIJSON(w, http.StatusAccepted, map[string]string{"status": "pass requested"})
}

func (d *Daemon) handleDrain(w http.ResponseWriter, _ *http.Request) {
	if d.drainer == nil {
		writeAPIError(w, http.StatusConflict, "drain is not enabled")
		return
	}
	d.TriggerDrain()
	writeAPIJSON(w, http.StatusAccepted, map[string]string{"status": "drain requested"})
}

func writeAPIJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeAPIJSON(w, status, map[string]string{"error": message})
}
