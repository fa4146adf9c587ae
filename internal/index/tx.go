package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/radstore/internal/fault"
	"github.com/roach88/radstore/internal/record"
	"github.com/roach88/radstore/internal/storage"
)

// Tx is one index transaction, handed out by Store.View and Store.Update.
type Tx struct {
	tx *sql.Tx
}

// Resource is one node of the hierarchy. ParentID is zero for patients.
type Resource struct {
	ID       int64
	PublicID string
	Level    record.Level
	ParentID int64
}

// CreateResource inserts an orphan resource and returns its internal id.
func (t *Tx) CreateResource(ctx context.Context, publicID string, level record.Level) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO resources (level, public_id) VALUES (?, ?)`, int(level), publicID)
	if err != nil {
		return 0, fmt.Errorf("create %s %s: %w", level, publicID, err)
	}
	return res.LastInsertId()
}

// AttachChild records parent as the parent of child.
func (t *Tx) AttachChild(ctx context.Context, parent, child int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE resources SET parent_id = ? WHERE internal_id = ?`, parent, child)
	if err != nil {
		return fmt.Errorf("attach %d under %d: %w", child, parent, err)
	}
	return expectOneRow(res, "resource %d", child)
}

// LookupResource finds a resource by public id.
func (t *Tx) LookupResource(ctx context.Context, publicID string) (Resource, bool, error) {
	r, err := scanResource(t.tx.QueryRowContext(ctx, `
		SELECT internal_id, public_id, level, parent_id
		FROM resources WHERE public_id = ?
	`, publicID))
	if errors.Is(err, sql.ErrNoRows) {
		return Resource{}, false, nil
	}
	if err != nil {
		return Resource{}, false, fmt.Errorf("lookup %s: %w", publicID, err)
	}
	return r, true, nil
}

// GetResource loads a resource by internal id.
func (t *Tx) GetResource(ctx context.Context, id int64) (Resource, error) {
	r, err := scanResource(t.tx.QueryRowContext(ctx, `
		SELECT internal_id, public_id, level, parent_id
		FROM resources WHERE internal_id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Resource{}, fault.New(fault.CodeNotFound, "resource %d", id)
	}
	if err != nil {
		return Resource{}, fmt.Errorf("get resource %d: %w", id, err)
	}
	return r, nil
}

// LookupParent returns the parent of id, if it has one.
func (t *Tx) LookupParent(ctx context.Context, id int64) (int64, bool, error) {
	r, err := t.GetResource(ctx, id)
	if err != nil {
		return 0, false, err
	}
	return r.ParentID, r.ParentID != 0, nil
}

// GetChildren returns the internal ids of the children of id, oldest first.
func (t *Tx) GetChildren(ctx context.Context, id int64) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT internal_id FROM resources WHERE parent_id = ? ORDER BY internal_id`, id)
	if err != nil {
		return nil, fmt.Errorf("query children of %d: %w", id, err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var child int64
		if err := rows.Scan(&child); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		ids = append(ids, child)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return ids, nil
}

// GetChildrenPublicIDs returns the public ids of the children of id.
func (t *Tx) GetChildrenPublicIDs(ctx context.Context, id int64) ([]string, error) {
	return t.queryStrings(ctx,
		`SELECT public_id FROM resources WHERE parent_id = ? ORDER BY internal_id`, id)
}

// GetAllPublicIDs lists every resource of level, oldest first.
func (t *Tx) GetAllPublicIDs(ctx context.Context, level record.Level) ([]string, error) {
	return t.queryStrings(ctx,
		`SELECT public_id FROM resources WHERE level = ? ORDER BY internal_id`, int(level))
}

// CountResources returns how many resources of level exist.
func (t *Tx) CountResources(ctx context.Context, level record.Level) (int64, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM resources WHERE level = ?`, int(level)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", level.Plural(), err)
	}
	return n, nil
}

// SetMainAttribute stores a display attribute, replacing any previous value.
func (t *Tx) SetMainAttribute(ctx context.Context, id int64, tag record.Tag, value string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO main_attributes (internal_id, tag, value) VALUES (?, ?, ?)
		ON CONFLICT (internal_id, tag) DO UPDATE SET value = excluded.value
	`, id, string(tag), value)
	if err != nil {
		return fmt.Errorf("set main attribute %s on %d: %w", tag, id, err)
	}
	return nil
}

// SetIdentifierAttribute stores a searchable attribute, replacing any
// previous value.
func (t *Tx) SetIdentifierAttribute(ctx context.Context, id int64, tag record.Tag, value string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO identifier_attributes (internal_id, tag, value) VALUES (?, ?, ?)
		ON CONFLICT (internal_id, tag) DO UPDATE SET value = excluded.value
	`, id, string(tag), value)
	if err != nil {
		return fmt.Errorf("set identifier %s on %d: %w", tag, id, err)
	}
	return nil
}

// ClearIndexedAttributes drops every main and identifier attribute of id.
func (t *Tx) ClearIndexedAttributes(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM main_attributes WHERE internal_id = ?`, id); err != nil {
		return fmt.Errorf("clear main attributes of %d: %w", id, err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM identifier_attributes WHERE internal_id = ?`, id); err != nil {
		return fmt.Errorf("clear identifiers of %d: %w", id, err)
	}
	return nil
}

// GetMainAttributes reads back the display attributes of id.
func (t *Tx) GetMainAttributes(ctx context.Context, id int64) (record.Attributes, error) {
	return t.queryAttributes(ctx, `SELECT tag, value FROM main_attributes WHERE internal_id = ?`, id)
}

// GetIdentifierAttributes reads back the searchable attributes of id.
func (t *Tx) GetIdentifierAttributes(ctx context.Context, id int64) (record.Attributes, error) {
	return t.queryAttributes(ctx, `SELECT tag, value FROM identifier_attributes WHERE internal_id = ?`, id)
}

// LookupIdentifier returns the public ids of the resources of level whose
// identifier tag equals value exactly.
func (t *Tx) LookupIdentifier(ctx context.Context, level record.Level, tag record.Tag, value string) ([]string, error) {
	return t.queryStrings(ctx, `
		SELECT r.public_id
		FROM identifier_attributes i
		JOIN resources r ON r.internal_id = i.internal_id
		WHERE r.level = ? AND i.tag = ? AND i.value = ?
		ORDER BY r.internal_id
	`, int(level), string(tag), value)
}

// AddAttachment records a stored file as owned by id.
func (t *Tx) AddAttachment(ctx context.Context, id int64, info storage.FileInfo) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO attachments (internal_id, content_type, uuid, compression,
			uncompressed_size, uncompressed_hash, compressed_size, compressed_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, int(info.ContentType), info.UUID, int(info.Compression),
		info.UncompressedSize, info.UncompressedHash, info.CompressedSize, info.CompressedHash)
	if err != nil {
		return fmt.Errorf("add %s attachment to %d: %w", info.ContentType, id, err)
	}
	return nil
}

// LookupAttachment finds the attachment of id with the given content type.
func (t *Tx) LookupAttachment(ctx context.Context, id int64, contentType storage.ContentType) (storage.FileInfo, bool, error) {
	files, err := t.queryAttachments(ctx, attachmentColumns+`
		WHERE internal_id = ? AND content_type = ?
	`, id, int(contentType))
	if err != nil {
		return storage.FileInfo{}, false, err
	}
	if len(files) == 0 {
		return storage.FileInfo{}, false, nil
	}
	return files[0], true, nil
}

// ListAttachments returns every attachment of id by content type.
func (t *Tx) ListAttachments(ctx context.Context, id int64) ([]storage.FileInfo, error) {
	return t.queryAttachments(ctx, attachmentColumns+`
		WHERE internal_id = ? ORDER BY content_type
	`, id)
}

// DeleteAttachment forgets an attachment. The stored bytes are the
// caller's to remove.
func (t *Tx) DeleteAttachment(ctx context.Context, id int64, contentType storage.ContentType) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM attachments WHERE internal_id = ? AND content_type = ?`, id, int(contentType))
	if err != nil {
		return fmt.Errorf("delete %s attachment of %d: %w", contentType, id, err)
	}
	return nil
}

// TotalAttachmentSize sums the compressed and uncompressed sizes of every
// attachment.
func (t *Tx) TotalAttachmentSize(ctx context.Context) (compressed, uncompressed int64, err error) {
	err = t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(compressed_size), 0), COALESCE(SUM(uncompressed_size), 0)
		FROM attachments
	`).Scan(&compressed, &uncompressed)
	if err != nil {
		return 0, 0, fmt.Errorf("sum attachment sizes: %w", err)
	}
	return compressed, uncompressed, nil
}

// DeleteResult reports what a cascading delete removed.
type DeleteResult struct {
	// Deleted lists the removed resources, shallowest level first.
	Deleted []Resource
	// Files are the attachments of the removed resources; their bytes are
	// still in storage.
	Files []storage.FileInfo
	// RemainingAncestor is the closest ancestor that survived, if any.
	RemainingAncestor *Resource
}

// DeleteResource removes id with its whole subtree, then removes every
// ancestor left without children.
func (t *Tx) DeleteResource(ctx context.Context, id int64) (DeleteResult, error) {
	target, err := t.GetResource(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}

	var result DeleteResult
	if err := t.collectSubtree(ctx, id, &result); err != nil {
		return DeleteResult{}, err
	}
	if err := t.deleteRow(ctx, id); err != nil {
		return DeleteResult{}, err
	}

	parentID := target.ParentID
	for parentID != 0 {
		children, err := t.GetChildren(ctx, parentID)
		if err != nil {
			return DeleteResult{}, err
		}
		parent, err := t.GetResource(ctx, parentID)
		if err != nil {
			return DeleteResult{}, err
		}
		if len(children) > 0 {
			result.RemainingAncestor = &parent
			break
		}

		files, err := t.ListAttachments(ctx, parentID)
		if err != nil {
			return DeleteResult{}, err
		}
		result.Deleted = append([]Resource{parent}, result.Deleted...)
		result.Files = append(result.Files, files...)
		if err := t.deleteRow(ctx, parentID); err != nil {
			return DeleteResult{}, err
		}
		parentID = parent.ParentID
	}
	return result, nil
}

const subtreeCTE = `
	WITH RECURSIVE subtree(id) AS (
		SELECT ?
		UNION ALL
		SELECT r.internal_id FROM resources r JOIN subtree s ON r.parent_id = s.id
	)
`

func (t *Tx) collectSubtree(ctx context.Context, id int64, result *DeleteResult) error {
	rows, err := t.tx.QueryContext(ctx, subtreeCTE+`
		SELECT internal_id, public_id, level, parent_id
		FROM resources WHERE internal_id IN (SELECT id FROM subtree)
		ORDER BY level, internal_id
	`, id)
	if err != nil {
		return fmt.Errorf("query subtree of %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return fmt.Errorf("scan subtree: %w", err)
		}
		result.Deleted = append(result.Deleted, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate subtree: %w", err)
	}
	rows.Close()

	files, err := t.queryAttachments(ctx, subtreeCTE+attachmentColumns+`
		WHERE internal_id IN (SELECT id FROM subtree)
		ORDER BY internal_id, content_type
	`, id)
	if err != nil {
		return err
	}
	result.Files = append(result.Files, files...)
	return nil
}

func (t *Tx) deleteRow(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM resources WHERE internal_id = ?`, id); err != nil {
		return fmt.Errorf("delete resource %d: %w", id, err)
	}
	return nil
}

// Change is one entry of the changes log.
type Change struct {
	Seq      int64
	Type     string
	PublicID string
	Level    record.Level
	Date     time.Time
}

// LogChange appends to the changes log and returns the assigned sequence.
func (t *Tx) LogChange(ctx context.Context, c Change) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO changes (change_type, public_id, level, date) VALUES (?, ?, ?, ?)`,
		c.Type, c.PublicID, int(c.Level), c.Date.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("log change %s: %w", c.Type, err)
	}
	return res.LastInsertId()
}

// GetChanges returns up to limit changes with a sequence above since.
// done is true when no later change exists.
func (t *Tx) GetChanges(ctx context.Context, since int64, limit int) (changes []Change, done bool, err error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT seq, change_type, public_id, level, date
		FROM changes WHERE seq > ? ORDER BY seq LIMIT ?
	`, since, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	changes = []Change{}
	for rows.Next() {
		var c Change
		var level int
		var date string
		if err := rows.Scan(&c.Seq, &c.Type, &c.PublicID, &level, &date); err != nil {
			return nil, false, fmt.Errorf("scan change: %w", err)
		}
		c.Level = record.Level(level)
		if c.Date, err = time.Parse(time.RFC3339Nano, date); err != nil {
			return nil, false, fmt.Errorf("parse change date %q: %w", date, err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate changes: %w", err)
	}
	if len(changes) > limit {
		return changes[:limit], false, nil
	}
	return changes, true, nil
}

// LastChangeSeq returns the highest logged sequence, or zero.
func (t *Tx) LastChangeSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM changes`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last change: %w", err)
	}
	return seq, nil
}

// SetGlobalProperty stores a server-wide key/value pair.
func (t *Tx) SetGlobalProperty(ctx context.Context, key, value string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO global_properties (property, value) VALUES (?, ?)
		ON CONFLICT (property) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set property %s: %w", key, err)
	}
	return nil
}

// LookupGlobalProperty reads a server-wide key/value pair.
func (t *Tx) LookupGlobalProperty(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := t.tx.QueryRowContext(ctx,
		`SELECT value FROM global_properties WHERE property = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup property %s: %w", key, err)
	}
	return value, true, nil
}

const attachmentColumns = `
	SELECT uuid, content_type, compression, uncompressed_size, uncompressed_hash,
		compressed_size, compressed_hash
	FROM attachments
`

func (t *Tx) queryAttachments(ctx context.Context, query string, args ...any) ([]storage.FileInfo, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	files := []storage.FileInfo{}
	for rows.Next() {
		var f storage.FileInfo
		var contentType, compression int
		if err := rows.Scan(&f.UUID, &contentType, &compression, &f.UncompressedSize,
			&f.UncompressedHash, &f.CompressedSize, &f.CompressedHash); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		f.ContentType = storage.ContentType(contentType)
		f.Compression = storage.CompressionType(compression)
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return files, nil
}

func (t *Tx) queryAttributes(ctx context.Context, query string, id int64) (record.Attributes, error) {
	rows, err := t.tx.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query attributes of %d: %w", id, err)
	}
	defer rows.Close()

	attrs := record.Attributes{}
	for rows.Next() {
		var tag, value string
		if err := rows.Scan(&tag, &value); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		attrs[record.Tag(tag)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attributes: %w", err)
	}
	return attrs, nil
}

func (t *Tx) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (Resource, error) {
	var r Resource
	var level int
	var parent sql.NullInt64
	if err := row.Scan(&r.ID, &r.PublicID, &level, &parent); err != nil {
		return Resource{}, err
	}
	r.Level = record.Level(level)
	r.ParentID = parent.Int64
	return r, nil
}

func expectOneRow(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fault.New(fault.CodeNotFound, format, args...)
	}
	return nil
}
