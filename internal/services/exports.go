package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/pointid/mission-gateway/internal/graphql"
	"github.com/pointid/mission-gateway/internal/models"
)

// Export operation names
const (
	OpExportMissions            = "exportMissions"
	OpExportMissionDetails      = "exportMissionDetails"
	OpExportPrestataireMissions = "exportPrestataireMissions"
	OpExportPrestataireReport   = "exportPrestataireReport"
)

// Download is an export file opened for streaming. The caller must close
// Body.
type Download struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// ExportMissions asks the server for an export of the caller's missions
func (s *MissionStore) ExportMissions(ctx context.Context) (*models.ExportFile, error) {
	return s.export(ctx, OpExportMissions, "", graphql.Request{Query: queryExportMissions})
}

// ExportMissionDetails asks for the export of one mission
func (s *MissionStore) ExportMissionDetails(ctx context.Context, missionID string) (*models.ExportFile, error) {
	return s.export(ctx, OpExportMissionDetails, missionID, graphql.Request{
		Query:     queryExportMissionDetails,
		Variables: map[string]any{"missionId": missionID},
	})
}

// ExportPrestataireMissions asks for the export of the prestataire's missions
func (s *MissionStore) ExportPrestataireMissions(ctx context.Context) (*models.ExportFile, error) {
	return s.export(ctx, OpExportPrestataireMissions, "", graphql.Request{Query: queryExportPrestataireMissions})
}

// ExportPrestataireReport asks for the prestataire's activity report
func (s *MissionStore) ExportPrestataireReport(ctx context.Context) (*models.ExportFile, error) {
	return s.export(ctx, OpExportPrestataireReport, "", graphql.Request{Query: queryExportPrestataireReport})
}

func (s *MissionStore) export(ctx context.Context, op, id string, req graphql.Request) (*models.ExportFile, error) {
	s.tracker.Begin(op, id)

	var out struct {
		Export *models.ExportFile `json:"export"`
	}
	if err := s.exec.Do(ctx, req, &out); err != nil {
		return nil, s.fail(op, id, err)
	}
	if out.Export == nil || out.Export.URL == "" {
		err := &graphql.Error{Kind: graphql.KindInternal, Op: op, Err: fmt.Errorf("export returned no file")}
		return nil, s.fail(op, id, err)
	}

	s.tracker.Succeed(op, id)
	return out.Export, nil
}

// Downloader fetches export files from the URL the server returned.
// Relative URLs resolve against the GraphQL endpoint, and the bearer token
// is only sent to that endpoint's origin.
type Downloader struct {
	client *http.Client
	base   *url.URL
	tokens graphql.TokenSource
}

// NewDownloader creates a downloader for exports of the server at
// endpoint. tokens may be nil when export URLs are pre-signed.
func NewDownloader(client *http.Client, endpoint string, tokens graphql.TokenSource) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		base = &url.URL{}
	}
	return &Downloader{client: client, base: base, tokens: tokens}
}

// resolve returns the absolute URL of raw and whether it belongs to the
// GraphQL server's origin.
func (d *Downloader) resolve(raw string) (*url.URL, bool, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, false, err
	}
	u := d.base.ResolveReference(ref)
	if !u.IsAbs() {
		return nil, false, fmt.Errorf("export URL %q has no host", raw)
	}
	same := strings.EqualFold(u.Scheme, d.base.Scheme) && strings.EqualFold(u.Host, d.base.Host)
	return u, same, nil
}

// Open starts the download of f. Non-2xx answers are typed transport errors.
func (d *Downloader) Open(ctx context.Context, f *models.ExportFile) (*Download, error) {
	target, sameOrigin, err := d.resolve(f.URL)
	if err != nil {
		return nil, &graphql.Error{Kind: graphql.KindInternal, Op: "download", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	if d.tokens != nil && sameOrigin {
		token, err := d.tokens.Token(ctx)
		if err != nil {
			return nil, &graphql.Error{Kind: graphql.KindUnauthenticated, Op: "download", Err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &graphql.Error{Kind: graphql.KindNetwork, Op: "download", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &graphql.Error{
			Kind:   graphql.KindForStatus(resp.StatusCode),
			Op:     "download",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("download failed with status %d", resp.StatusCode),
		}
	}

	name := f.Filename
	if name == "" {
		name = path.Base(req.URL.Path)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &Download{Filename: name, ContentType: ct, Size: resp.ContentLength, Body: resp.Body}, nil
}

// ContentDisposition returns the attachment header value for filename
func ContentDisposition(filename string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, filename)
	return fmt.Sprintf(`attachment; filename="%s"`, clean)
}
