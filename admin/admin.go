// Package admin serves the operator trace browser: a table of recent
// requests and a per-request detail page, each available as HTML or JSON.
// It reads from the trace store only and never mutates relay state.
package admin

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	relay "github.com/abhishekdhakaab/Relay-LLM-inference-Manager"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/trace"
)

type Browser struct {
	traces trace.Store
	logger *zap.SugaredLogger
}

func NewBrowser(traces trace.Store, logger *zap.SugaredLogger) *Browser {
	return &Browser{traces: traces, logger: logger}
}

func (b *Browser) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/requests", b.handleList).Methods(http.MethodGet)
	router.HandleFunc("/admin/requests/{id}", b.handleDetail).Methods(http.MethodGet)
}

func (b *Browser) handleList(w http.ResponseWriter, r *http.Request) {
	filter := trace.Filter{Tenant: r.URL.Query().Get("tenant")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			filter.Limit = limit
		}
	}
	filter = filter.Normalize()

	summaries, err := b.traces.List(r.Context(), filter)
	if err != nil {
		b.logger.Errorw("Failed to list traces", "error", err)
		http.Error(w, "Failed to load traces", http.StatusInternalServerError)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, summaries)
		return
	}

	page := listPage{Tenant: filter.Tenant, Limit: filter.Limit}
	for _, summary := range summaries {
		page.Rows = append(page.Rows, newRequestRow(summary))
	}
	b.renderHTML(w, listTemplate, page)
}

func (b *Browser) handleDetail(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]

	stored, err := b.traces.Get(r.Context(), requestID)
	if err != nil {
		b.logger.Errorw("Failed to load trace", "request_id", requestID, "error", err)
		http.Error(w, "Failed to load trace", http.StatusInternalServerError)
		return
	}
	if stored == nil {
		if wantsJSON(r) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
			return
		}
		http.Error(w, "Trace not found", http.StatusNotFound)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, stored)
		return
	}
	b.renderHTML(w, detailTemplate, newDetailPage(stored))
}

func (b *Browser) renderHTML(w http.ResponseWriter, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		b.logger.Errorw("Failed to render admin page", "error", err)
	}
}

// wantsJSON switches a route to its JSON representation, either through the
// Accept header or an explicit ?format=json override.
func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

type listPage struct {
	Tenant string
	Limit  int
	Rows   []requestRow
}

// requestRow is one line of the list table, preformatted so the template
// stays free of logic.
type requestRow struct {
	CreatedAt   string
	RequestID   string
	TenantID    string
	StatusCode  int
	StatusClass string
	Model       string
	Served      string
	LatencyMs   int64
	QueueWaitMs string
	BackendMs   string
	Plan        string
}

func newRequestRow(summary *trace.Summary) requestRow {
	return requestRow{
		CreatedAt:   summary.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		RequestID:   summary.RequestID,
		TenantID:    summary.TenantID,
		StatusCode:  summary.StatusCode,
		StatusClass: statusClass(summary.StatusCode),
		Model:       summary.Model,
		Served:      servedVia(summary.StatusCode, summary.CacheJSON),
		LatencyMs:   summary.LatencyMs,
		QueueWaitMs: formatMs(summary.QueueWaitMs),
		BackendMs:   formatMs(summary.BackendLatencyMs),
		Plan:        truncate(string(summary.PlanJSON), 120),
	}
}

// servedVia names what ultimately answered the request: a cache tier, the
// backend, or the failure that short-circuited the pipeline.
func servedVia(statusCode int, cacheJSON json.RawMessage) string {
	if len(cacheJSON) > 0 {
		var provenance relay.CacheProvenance
		if err := json.Unmarshal(cacheJSON, &provenance); err == nil {
			if provenance.Exact.Hit {
				return "exact cache"
			}
			if provenance.Semantic.Hit {
				return "semantic cache"
			}
		}
	}
	switch statusCode {
	case http.StatusOK:
		return "backend"
	case http.StatusTooManyRequests:
		return "rejected"
	case http.StatusServiceUnavailable:
		return "queue full"
	default:
		return "error"
	}
}

func statusClass(statusCode int) string {
	switch {
	case statusCode < 400:
		return "ok"
	case statusCode < 500:
		return "warn"
	default:
		return "err"
	}
}

func formatMs(value *int64) string {
	if value == nil {
		return "-"
	}
	return strconv.FormatInt(*value, 10) + " ms"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

type detailPage struct {
	RequestID string
	Fields    []detailField
	Sections  []detailSection
}

type detailField struct {
	Label string
	Value string
}

// detailSection is one pretty-printed JSON block on the detail page.
type detailSection struct {
	Title string
	Body  string
}

func newDetailPage(stored *trace.RequestTrace) detailPage {
	page := detailPage{
		RequestID: stored.RequestID,
		Fields: []detailField{
			{"Created", stored.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC")},
			{"Tenant", stored.TenantID},
			{"Endpoint", stored.Endpoint},
			{"Model", stored.Model},
			{"Status", strconv.Itoa(stored.StatusCode)},
			{"Latency", strconv.FormatInt(stored.LatencyMs, 10) + " ms"},
			{"Queue wait", formatMs(stored.QueueWaitMs)},
			{"Backend latency", formatMs(stored.BackendLatencyMs)},
			{"Tokens", formatTokens(stored)},
			{"Request hash", stored.RequestHash},
			{"Policy version", stored.PolicyVersion},
		},
	}
	page.addSection("Plan", stored.PlanJSON)
	page.addSection("Decision Trace", stored.DecisionJSON)
	page.addSection("Cache Provenance", stored.CacheJSON)
	page.addSection("Request", stored.RequestJSON)
	page.addSection("Response", stored.ResponseJSON)
	page.addSection("Error", stored.ErrorJSON)
	return page
}

func (p *detailPage) addSection(title string, raw json.RawMessage) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	p.Sections = append(p.Sections, detailSection{Title: title, Body: prettyJSON(raw)})
}

func formatTokens(stored *trace.RequestTrace) string {
	if stored.TotalTokens == nil {
		return "-"
	}
	prompt, completion := int32(0), int32(0)
	if stored.PromptTokens != nil {
		prompt = *stored.PromptTokens
	}
	if stored.CompletionTokens != nil {
		completion = *stored.CompletionTokens
	}
	return strconv.Itoa(int(prompt)) + " + " + strconv.Itoa(int(completion)) + " = " + strconv.Itoa(int(*stored.TotalTokens))
}

func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

var (
	listTemplate   = template.Must(template.New("requests").Parse(requestListTemplate))
	detailTemplate = template.Must(template.New("request").Parse(requestDetailTemplate))
)

const requestListTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Relay Requests</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #0a0a0a; color: #ffffff; line-height: 1.6; }
        .page { padding: 20px; max-width: 1400px; margin: 0 auto; }
        header { display: flex; justify-content: space-between; align-items: baseline; margin-bottom: 20px; padding-bottom: 15px; border-bottom: 1px solid #333; }
        header h1 { color: #ff6b35; font-size: 1.8rem; font-weight: 700; }
        .meta { color: #9ca3af; font-size: 0.9rem; }
        table { width: 100%; border-collapse: collapse; background: #1f2937; border-radius: 12px; overflow: hidden; border: 1px solid #374151; }
        th { text-align: left; padding: 10px 12px; color: #9ca3af; font-size: 0.8rem; text-transform: uppercase; border-bottom: 1px solid #374151; }
        td { padding: 8px 12px; border-bottom: 1px solid #2b3544; font-size: 0.9rem; vertical-align: top; }
        tr:last-child td { border-bottom: none; }
        a { color: #ff6b35; text-decoration: none; }
        a:hover { text-decoration: underline; }
        .mono { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 0.8rem; }
        .num { text-align: right; white-space: nowrap; }
        .plan { color: #9ca3af; max-width: 340px; overflow: hidden; }
        .badge { display: inline-block; padding: 1px 8px; border-radius: 8px; font-size: 0.8rem; font-weight: 600; }
        .badge.ok { background: #064e3b; color: #10b981; }
        .badge.warn { background: #78350f; color: #f59e0b; }
        .badge.err { background: #7f1d1d; color: #ef4444; }
        .empty { color: #9ca3af; text-align: center; padding: 30px; }
    </style>
</head>
<body>
    <div class="page">
        <header>
            <h1>Relay Requests</h1>
            <div class="meta">showing up to {{.Limit}} traces{{if .Tenant}} for tenant &quot;{{.Tenant}}&quot;{{end}}</div>
        </header>
        <table>
            <thead>
                <tr>
                    <th>Created</th><th>Request</th><th>Tenant</th><th>Status</th><th>Model</th>
                    <th>Served via</th><th>Latency</th><th>Queue</th><th>Backend</th><th>Plan</th>
                </tr>
            </thead>
            <tbody>
                {{range .Rows}}
                <tr>
                    <td class="mono">{{.CreatedAt}}</td>
                    <td class="mono"><a href="/admin/requests/{{.RequestID}}">{{.RequestID}}</a></td>
                    <td>{{.TenantID}}</td>
                    <td><span class="badge {{.StatusClass}}">{{.StatusCode}}</span></td>
                    <td>{{.Model}}</td>
                    <td>{{.Served}}</td>
                    <td class="num">{{.LatencyMs}} ms</td>
                    <td class="num">{{.QueueWaitMs}}</td>
                    <td class="num">{{.BackendMs}}</td>
                    <td class="mono plan">{{.Plan}}</td>
                </tr>
                {{else}}
                <tr><td colspan="10" class="empty">No traces recorded yet.</td></tr>
                {{end}}
            </tbody>
        </table>
    </div>
</body>
</html>`

const requestDetailTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Request {{.RequestID}}</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #0a0a0a; color: #ffffff; line-height: 1.6; }
        .page { padding: 20px; max-width: 1100px; margin: 0 auto; }
        a { color: #ff6b35; text-decoration: none; }
        a:hover { text-decoration: underline; }
        h1 { color: #ff6b35; font-size: 1.4rem; margin: 10px 0 20px; font-family: ui-monospace, SFMono-Regular, Menlo, monospace; }
        .panel { background: #1f2937; padding: 20px 25px; border-radius: 12px; border: 1px solid #374151; margin-bottom: 20px; }
        .panel h2 { color: #f9fafb; font-size: 1.05rem; margin-bottom: 12px; padding-bottom: 8px; border-bottom: 1px solid #374151; }
        .field { display: flex; justify-content: space-between; margin-bottom: 6px; }
        .label { color: #9ca3af; }
        .value { color: #f9fafb; font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 0.85rem; }
        pre { background: #111827; padding: 14px; border-radius: 8px; border: 1px solid #374151; overflow-x: auto; font-size: 0.8rem; color: #d1d5db; }
    </style>
</head>
<body>
    <div class="page">
        <a href="/admin/requests">&larr; back to requests</a>
        <h1>{{.RequestID}}</h1>
        <div class="panel">
            {{range .Fields}}
            <div class="field">
                <span class="label">{{.Label}}</span>
                <span class="value">{{.Value}}</span>
            </div>
            {{end}}
        </div>
        {{range .Sections}}
        <div class="panel">
            <h2>{{.Title}}</h2>
            <pre>{{.Body}}</pre>
        </div>
        {{end}}
    </div>
</body>
</html>`
