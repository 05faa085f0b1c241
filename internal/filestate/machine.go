package filestate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"invoiceflow/internal/config"
	"invoiceflow/internal/model"
	"invoiceflow/pkg/apperrors"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"go.uber.org/zap"
)

// Location is one of the status-named folders a document lives in.
type Location string

const (
	Incoming Location = "Incoming"
	Approved Location = "Approved"
	Pending  Location = "Pending"
	Rejected Location = "Rejected"
	Failed   Location = "Failed"
)

// ErrInvalidMove is returned for a move the state machine does not allow.
var ErrInvalidMove = errors.New("invalid file move")

var transitions = map[Location][]Location{
	Incoming: {Approved, Pending, Rejected, Failed},
	Pending:  {Approved, Rejected},
	Failed:   {Incoming},
}

// searchOrder is the order Locate probes folders in.
var searchOrder = []Location{Incoming, Pending, Approved, Rejected, Failed}

// ForStatus maps a request status onto its folder.
func ForStatus(status string) Location {
	switch status {
	case model.StatusApproved:
		return Approved
	case model.StatusRejected:
		return Rejected
	default:
		return Pending
	}
}

// CanMove reports whether from -> to is an allowed transition.
func CanMove(from, to Location) bool {
	for _, l := range transitions[from] {
		if l == to {
			return true
		}
	}
	return false
}

// Machine moves documents and their derived artifacts between folders.
// It holds no state of its own; folders may be local paths or afs URLs.
type Machine struct {
	fs      afs.Service
	folders map[Location]string
	log     *zap.Logger
}

// New resolves the configured folders and creates any that are missing.
func New(ctx context.Context, fs afs.Service, folders config.Folders, log *zap.Logger) (*Machine, error) {
	m := &Machine{fs: fs, folders: map[Location]string{}, log: log}

	raw := map[Location]string{
		Incoming: folders.Incoming,
		Approved: folders.Approved,
		Pending:  folders.Pending,
		Rejected: folders.Rejected,
		Failed:   folders.Failed,
	}
	for loc, dir := range raw {
		if dir == "" {
			continue
		}
		base, err := normalize(dir)
		if err != nil {
			return nil, fmt.Errorf("folder %s: %w", loc, err)
		}
		exists, _ := fs.Exists(ctx, base)
		if !exists {
			if err := fs.Create(ctx, base, file.DefaultDirOsMode, true); err != nil {
				return nil, fmt.Errorf("failed to create %s folder %s: %w", loc, base, err)
			}
		}
		m.folders[loc] = base
	}
	for _, required := range []Location{Incoming, Approved, Pending, Rejected} {
		if _, ok := m.folders[required]; !ok {
			return nil, fmt.Errorf("folder %s is not configured", required)
		}
	}
	return m, nil
}

func normalize(dir string) (string, error) {
	if strings.Contains(dir, "://") {
		return strings.TrimRight(dir, "/"), nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// HasFailed reports whether an error area is configured.
func (m *Machine) HasFailed() bool {
	_, ok := m.folders[Failed]
	return ok
}

// Folder returns the base URL of loc.
func (m *Machine) Folder(loc Location) string {
	return m.folders[loc]
}

// URL returns the full URL of name inside loc.
func (m *Machine) URL(loc Location, name string) string {
	return url.Join(m.folders[loc], path.Base(name))
}

// ArtifactNames returns the derived sidecar names of a document.
func ArtifactNames(fileName string) []string {
	base := path.Base(fileName)
	stem := strings.TrimSuffix(base, path.Ext(base))
	return []string{stem + JSONSuffix, stem + XLSXSuffix}
}

func (m *Machine) Exists(ctx context.Context, loc Location, name string) (bool, error) {
	if _, ok := m.folders[loc]; !ok {
		return false, nil
	}
	return m.fs.Exists(ctx, m.URL(loc, name))
}

// Download reads name from loc.
func (m *Machine) Download(ctx context.Context, loc Location, name string) ([]byte, error) {
	exists, err := m.Exists(ctx, loc, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrFileNotFound, loc, name)
	}
	return m.fs.DownloadWithURL(ctx, m.URL(loc, name))
}

// Upload writes data as name into loc.
func (m *Machine) Upload(ctx context.Context, loc Location, name string, r io.Reader) error {
	if _, ok := m.folders[loc]; !ok {
		return fmt.Errorf("%w: folder %s is not configured", ErrInvalidMove, loc)
	}
	return m.fs.Upload(ctx, m.URL(loc, name), file.DefaultFileOsMode, r)
}

// List returns the document names (artifacts excluded) currently in loc, sorted.
func (m *Machine) List(ctx context.Context, loc Location) ([]string, error) {
	objects, err := m.fs.List(ctx, m.folders[loc])
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", loc, err)
	}
	var names []string
	for _, obj := range objects {
		if obj.IsDir() || IsArtifact(obj.Name()) {
			continue
		}
		names = append(names, obj.Name())
	}
	sort.Strings(names)
	return names, nil
}

// IsArtifact reports whether name is a derived sidecar rather than a document.
func IsArtifact(name string) bool {
	return strings.HasSuffix(name, JSONSuffix) || strings.HasSuffix(name, XLSXSuffix)
}

// Locate finds the folder currently holding fileName.
func (m *Machine) Locate(ctx context.Context, fileName string) (Location, error) {
	for _, loc := range searchOrder {
		ok, err := m.Exists(ctx, loc, fileName)
		if err != nil {
			return "", err
		}
		if ok {
			return loc, nil
		}
	}
	return "", fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, fileName)
}

// Open locates fileName and returns its content.
func (m *Machine) Open(ctx context.Context, fileName string) ([]byte, Location, error) {
	loc, err := m.Locate(ctx, fileName)
	if err != nil {
		return nil, "", err
	}
	data, err := m.Download(ctx, loc, fileName)
	if err != nil {
		return nil, "", err
	}
	return data, loc, nil
}

type moved struct {
	src, dst string
}

// Move relocates fileName and its artifacts from one folder to another. Artifacts
// go first and the document last; if any step fails the items already moved are
// put back so nothing is left split across folders.
func (m *Machine) Move(ctx context.Context, fileName string, from, to Location) error {
	if !CanMove(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidMove, from, to)
	}
	if _, ok := m.folders[to]; !ok {
		return fmt.Errorf("%w: folder %s is not configured", ErrInvalidMove, to)
	}

	name := path.Base(fileName)
	exists, err := m.Exists(ctx, from, name)
	if err != nil {
		return fmt.Errorf("failed to check %s/%s: %w", from, name, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s/%s", apperrors.ErrFileNotFound, from, name)
	}

	var items []string
	for _, artifact := range ArtifactNames(name) {
		ok, err := m.Exists(ctx, from, artifact)
		if err != nil {
			return fmt.Errorf("failed to check %s/%s: %w", from, artifact, err)
		}
		if ok {
			items = append(items, artifact)
		}
	}
	items = append(items, name)

	var done []moved
	for _, item := range items {
		src, dst := m.URL(from, item), m.URL(to, item)
		if err := m.fs.Move(ctx, src, dst); err != nil {
			m.rollback(ctx, name, done)
			return fmt.Errorf("failed to move %s from %s to %s: %w", item, from, to, err)
		}
		done = append(done, moved{src: src, dst: dst})
	}

	m.log.Info("file moved", zap.String("file", name), zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

func (m *Machine) rollback(ctx context.Context, name string, done []moved) {
	for i := len(done) - 1; i >= 0; i-- {
		if err := m.fs.Move(ctx, done[i].dst, done[i].src); err != nil {
			m.log.Error("rollback of partial move failed",
				zap.String("file", name),
				zap.String("item", done[i].dst),
				zap.Error(err),
			)
		}
	}
}

func (m *Machine) upload(ctx context.Context, loc Location, name string, data []byte) error {
	return m.fs.Upload(ctx, m.URL(loc, name), file.DefaultFileOsMode, bytes.NewReader(data))
}
