package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/johndauphine/tg-migrate/internal/idmap"
	"github.com/johndauphine/tg-migrate/internal/logging"
	"github.com/johndauphine/tg-migrate/internal/snapshot"
)

// docGroup is one document with the versions seen for it and the entity it
// belongs to.
type docGroup struct {
	docTG      int64
	targetType string
	targetID   string
	projectID  string
	commentTG  int64
	taskTG     int64
	versions   []sourceVersion
}

type docGroups struct {
	byID  map[int64]*docGroup
	order []int64
}

func (g *docGroups) add(docTG int64, proto docGroup, versions ...sourceVersion) {
	if g.byID == nil {
		g.byID = make(map[int64]*docGroup)
	}
	grp, ok := g.byID[docTG]
	if !ok {
		proto.docTG = docTG
		grp = &proto
		g.byID[docTG] = grp
		g.order = append(g.order, docTG)
	}
	grp.versions = append(grp.versions, versions...)
}

// importComments inserts project and task comments, then the documents
// attached to mapped comments or listed under mapped tasks, then the
// versions of every mapped document.
func (im *Importer) importComments(ctx context.Context, res *StepResult) error {
	comments := newRowSet("comments",
		"tenant_id", "tg_id", "target_type", "target_id", "project_id", "message", "is_pinned", "pinned_at",
		"is_active", "created_by", "updated_by", "created_at", "updated_at")
	var commentTGs []int64
	var groups docGroups
	unmapped := 0

	for _, kind := range []string{"project", "task"} {
		dir := "comments/by-" + kind
		files, err := im.snap.List(dir)
		if err != nil {
			return fmt.Errorf("listing %s: %w", dir, err)
		}
		if len(files) > 0 {
			logging.Info("Processing %d by-%s comment files", len(files), kind)
		}
		for _, file := range files {
			if !strings.HasSuffix(file, ".json") {
				continue
			}
			var list []sourceComment
			if err := im.snap.ReadJSON(dir+"/"+file, &list); err != nil {
				return fmt.Errorf("reading %s/%s: %w", dir, file, err)
			}
			fileID, _ := strconv.ParseInt(strings.TrimSuffix(file, ".json"), 10, 64)

			for _, c := range list {
				mapped := im.mapper.Has(idmap.Comment, int64(c.ID))
				projectTG := int64(c.ProjectID)
				if projectTG == 0 && kind == "project" {
					projectTG = fileID
				}
				projectID, ok := im.mapper.Get(idmap.Project, projectTG)
				targetID, taskTG := projectID, int64(0)
				if ok && kind == "task" {
					taskTG = int64(c.TargetID)
					if taskTG == 0 {
						taskTG = fileID
					}
					targetID, ok = im.mapper.Get(idmap.Task, taskTG)
				}
				switch {
				case !ok:
					unmapped++
					continue
				case mapped:
					im.tally(res, "comments", "skipped", 1)
				default:
					pinned := c.PinDate != nil
					updatedAt := c.UpdatedAt
					if updatedAt == nil {
						updatedAt = c.AddedDate
					}
					comments.add(
						im.opts.TenantID, int64(c.ID), kind, targetID, projectID, c.Message, pinned, c.PinDate,
						true, im.mappedOrNil(idmap.User, c.AddedBy), im.mappedOrNil(idmap.User, c.UpdatedBy),
						nowOr(c.AddedDate), nowOr(updatedAt),
					)
					commentTGs = append(commentTGs, int64(c.ID))
				}

				for _, v := range c.AttachedDocuments {
					if v.DocumentID == 0 {
						continue
					}
					groups.add(int64(v.DocumentID), docGroup{
						targetType: kind, targetID: targetID, projectID: projectID,
						commentTG: int64(c.ID), taskTG: taskTG,
					}, v)
				}
			}
		}
	}
	im.skip(res, "comments", skipUnmappedRef, unmapped)

	logging.Info("Found %d comments to import", comments.len())
	if comments.len() > 0 {
		if err := im.write(ctx, comments, res); err != nil {
			return err
		}
		if err := im.lookup(ctx, "comments", idmap.Comment, commentTGs); err != nil {
			return err
		}
	}

	if err := im.collectTaskDocuments(&groups); err != nil {
		return err
	}
	return im.importDocuments(ctx, &groups, res)
}

// collectTaskDocuments adds the documents listed under mapped tasks that no
// comment already carried.
func (im *Importer) collectTaskDocuments(groups *docGroups) error {
	dirs, err := im.snap.List("tasks")
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	for _, dir := range dirs {
		taskTG, err := strconv.ParseInt(dir, 10, 64)
		if err != nil {
			continue
		}
		var docs []sourceDocument
		found, err := im.readOptional("tasks/"+dir+"/documents/_index.json", &docs)
		if err != nil {
			return err
		}
		if !found || len(docs) == 0 {
			continue
		}
		taskID, ok := im.mapper.Get(idmap.Task, taskTG)
		if !ok {
			continue
		}
		var task sourceTask
		if _, err := im.readOptional("tasks/"+dir+"/task.json", &task); err != nil {
			return err
		}
		projectID, ok := im.mapper.Get(idmap.Project, int64(task.ProjectID))
		if !ok {
			continue
		}
		for _, d := range docs {
			if d.ID == 0 {
				continue
			}
			if _, seen := groups.byID[int64(d.ID)]; seen {
				continue
			}
			groups.add(int64(d.ID), docGroup{
				targetType: "task", targetID: taskID, projectID: projectID, taskTG: taskTG,
			}, d.Versions...)
		}
	}
	return nil
}

func (im *Importer) importDocuments(ctx context.Context, groups *docGroups, res *StepResult) error {
	logging.Info("--- Documents ---")
	if len(groups.order) == 0 {
		logging.Info("No documents found")
		return nil
	}
	logging.Info("Found %d documents", len(groups.order))

	docs := newRowSet("documents",
		"tenant_id", "tg_id", "target_type", "target_id", "project_id", "comment_id", "is_active", "created_by")
	var docTGs []int64
	for _, id := range groups.order {
		g := groups.byID[id]
		if im.mapper.Has(idmap.Document, id) {
			im.tally(res, "documents", "skipped", 1)
			continue
		}
		var commentID, createdBy any
		if g.commentTG != 0 {
			if cid, ok := im.mapper.Get(idmap.Comment, g.commentTG); ok {
				commentID = cid
			}
		}
		if len(g.versions) > 0 {
			createdBy = im.mappedOrNil(idmap.User, g.versions[0].AddedBy)
		}
		docs.add(im.opts.TenantID, id, g.targetType, g.targetID, g.projectID, commentID, true, createdBy)
		docTGs = append(docTGs, id)
	}
	if docs.len() > 0 {
		if err := im.write(ctx, docs, res); err != nil {
			return err
		}
		if err := im.lookup(ctx, "documents", idmap.Document, docTGs); err != nil {
			return err
		}
	}

	var versionTGs []int64
	for _, id := range groups.order {
		if !im.mapper.Has(idmap.Document, id) {
			continue
		}
		for _, v := range groups.byID[id].versions {
			versionTGs = append(versionTGs, int64(v.ID))
		}
	}
	stored, err := im.existing(ctx, "document_versions", versionTGs)
	if err != nil {
		return err
	}

	manifest := im.loadManifest()
	versions := newRowSet("document_versions",
		"tenant_id", "tg_id", "document_id", "version_number", "file_name", "file_size", "mime_type",
		"storage_path", "file_hash", "description", "uploaded_by", "created_at")
	for _, id := range groups.order {
		documentID, ok := im.mapper.Get(idmap.Document, id)
		if !ok {
			continue
		}
		g := groups.byID[id]
		for i, v := range g.versions {
			if stored[int64(v.ID)] {
				continue
			}
			latest := i == len(g.versions)-1
			versions.add(
				im.opts.TenantID, int64(v.ID), documentID, i+1, v.fileName(), v.Size, v.MimeType,
				im.storagePath(ctx, g, v, latest, manifest), v.Hash, v.Description,
				im.mappedOrNil(idmap.User, v.AddedBy), nowOr(v.VersionDate),
			)
		}
	}
	im.skip(res, "document_versions", skipAlreadyImported, len(stored))
	_, err = im.insert(ctx, versions, res)
	return err
}

// storagePath locates a version's content. The latest version of a
// document that was downloaded is stored under the uploader's key when an
// uploader is enabled; otherwise the source download URL is kept.
func (im *Importer) storagePath(ctx context.Context, g *docGroup, v sourceVersion, latest bool, manifest map[int64]snapshot.ManifestEntry) string {
	if latest && im.uploader != nil && im.uploader.Enabled() {
		rel, digest := "", ""
		if entry, ok := manifest[g.docTG]; ok {
			if entry.ObjectKey != "" {
				return entry.ObjectKey
			}
			rel, digest = entry.Path, entry.SHA256
		} else if g.taskTG != 0 {
			rel = snapshot.DocumentPath(strconv.FormatInt(g.taskTG, 10), v.fileName())
		}
		if rel != "" && im.snap.Exists(rel) && !im.opts.DryRun {
			key, err := im.uploader.Upload(ctx, im.snap.Path(rel), rel, digest)
			if err == nil {
				return key
			}
			logging.Warn("Upload of %s failed: %v", rel, err)
		}
	}
	if v.DownloadURL != "" {
		return v.DownloadURL
	}
	return fmt.Sprintf("tg://documents/%d", v.ID)
}

func (im *Importer) loadManifest() map[int64]snapshot.ManifestEntry {
	entries, err := im.snap.ReadManifest()
	if err != nil {
		logging.Warn("Ignoring unreadable manifest: %v", err)
	}
	m := make(map[int64]snapshot.ManifestEntry, len(entries))
	for _, e := range entries {
		if id, err := strconv.ParseInt(e.DocID, 10, 64); err == nil {
			m[id] = e
		}
	}
	return m
}
