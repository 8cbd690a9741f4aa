package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rpinsight/rpinsight/internal/entity"
)

// Document is a stored, searchable representation of one API record.
type Document struct {
	ID       string
	Kind     entity.Kind
	Content  string
	Metadata map[string]string
	Raw      entity.Record
}

// DocumentID derives the stable document identifier for a record:
// "{kind}:{identifier}". The identifier field depends on the kind
// (users prefer userId, projects use projectName, everything else uses
// id). Records without any identifier fall back to a content hash so
// re-syncing the same record still maps to the same document.
func DocumentID(kind entity.Kind, rec entity.Record) string {
	var id string
	switch kind {
	case entity.KindUser:
		id = rec.Field("userId")
		if id == "" {
			id = rec.Field("id")
		}
	case entity.KindProject:
		id = rec.Field("projectName")
	default:
		id = rec.Field("id")
	}
	if id == "" {
		id = contentHash(rec)
	}
	return string(kind) + ":" + id
}

// contentHash hashes the canonical JSON form of a record. Map keys are
// sorted by encoding/json, so equal records hash equally.
func contentHash(rec entity.Record) string {
	data, err := json.Marshal(rec)
	if err != nil {
		data = fmt.Appendf(nil, "%v", rec)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BuildDocument derives the searchable document for one record:
// kind-specific text content plus a flat metadata projection used for
// search filters. extra entries (project name, parent launch/item ids)
// are merged into the metadata.
func BuildDocument(kind entity.Kind, rec entity.Record, extra map[string]string) Document {
	md := map[string]string{
		"entity_type": string(kind),
	}
	doc := Document{
		ID:   DocumentID(kind, rec),
		Kind: kind,
		Raw:  rec,
	}
	md["entity_id"] = strings.TrimPrefix(doc.ID, string(kind)+":")

	if v := rec.Field("lastModified"); v != "" {
		md["last_modified"] = v
	}

	var parts []string
	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}

	switch kind {
	case entity.KindLaunch:
		add("Launch", rec.Field("name"))
		add("Description", rec.Field("description"))
		add("Status", rec.Field("status"))
		add("Mode", rec.Field("mode"))
		for _, attr := range rec.List("attributes") {
			if k, v := attr.Field("key"), attr.Field("value"); k != "" || v != "" {
				parts = append(parts, k+":"+v)
			}
		}
		setIf(md, "launch_name", rec.Field("name"))
		setIf(md, "launch_number", rec.Field("number"))
		setIf(md, "status", rec.Field("status"))
		setIf(md, "mode", rec.Field("mode"))
		setIf(md, "owner", rec.Field("owner"))

	case entity.KindTestItem:
		add("Test Item", rec.Field("name"))
		add("Description", rec.Field("description"))
		add("Type", rec.Field("type"))
		add("Status", rec.Field("status"))
		if issue := rec.Map("issue"); issue != nil {
			add("Issue Type", issue.Field("issueType"))
			add("Issue Comment", issue.Field("comment"))
		}
		setIf(md, "item_name", rec.Field("name"))
		setIf(md, "item_type", rec.Field("type"))
		setIf(md, "status", rec.Field("status"))
		setIf(md, "launch_id", rec.Field("launchId"))

	case entity.KindLog:
		add("Log Level", rec.Field("level"))
		add("Message", rec.Field("message"))
		setIf(md, "level", rec.Field("level"))
		setIf(md, "item_id", rec.Field("itemId"))
		setIf(md, "launch_id", rec.Field("launchId"))

	case entity.KindUser:
		add("User", rec.Field("userId"))
		add("Full Name", rec.Field("fullName"))
		add("Email", rec.Field("email"))
		add("Role", rec.Field("userRole"))

	case entity.KindProject:
		add("Project", rec.Field("projectName"))
		add("Organization", rec.Field("organization"))

	case entity.KindFilter:
		add("Filter", rec.Field("name"))
		add("Description", rec.Field("description"))
		add("Type", rec.Field("type"))
		setIf(md, "owner", rec.Field("owner"))

	case entity.KindDashboard:
		add("Dashboard", rec.Field("name"))
		add("Description", rec.Field("description"))
		for _, w := range rec.List("widgets") {
			add("Widget", w.Field("widgetName"))
		}
		setIf(md, "owner", rec.Field("owner"))
	}

	if len(parts) == 0 {
		// Nothing recognizable; index the raw record so the document
		// is still findable
		data, err := json.Marshal(rec)
		if err == nil {
			parts = append(parts, string(data))
		}
	}

	for k, v := range extra {
		setIf(md, k, v)
	}

	doc.Content = strings.Join(parts, " ")
	doc.Metadata = md
	return doc
}

func setIf(md map[string]string, key, value string) {
	if value != "" {
		md[key] = value
	}
}
