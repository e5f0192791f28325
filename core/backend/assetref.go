package backend

import (
	"regexp"
	"strconv"

	"github.com/google/uuid"

	"github.com/relabs-tech/appseed/core/schema"
)

// AssetRefKind is the kind of value found in a binary field
type AssetRefKind int

// the kinds of binary field values
const (
	AssetRefInvalid AssetRefKind = iota
	AssetRefUpload
	AssetRefExisting
)

// AssetRef is a classified binary field value
type AssetRef struct {
	Kind  AssetRefKind
	Index int
	ID    uuid.UUID
}

var uploadIndex = regexp.MustCompile(`^\d+$`)

// ClassifyAssetValue decides what a binary field value refers to. A decimal string below
// uploadCount is the index of an uploaded part, a UUID refers to an existing asset.
// Everything else, including indices without a matching part, is invalid.
func ClassifyAssetValue(value interface{}, uploadCount int) AssetRef {
	s, ok := value.(string)
	if !ok {
		return AssetRef{Kind: AssetRefInvalid}
	}
	if uploadIndex.MatchString(s) {
		i, err := strconv.Atoi(s)
		if err != nil || i >= uploadCount {
			return AssetRef{Kind: AssetRefInvalid}
		}
		return AssetRef{Kind: AssetRefUpload, Index: i}
	}
	if len(s) == 36 {
		if id, err := uuid.Parse(s); err == nil {
			return AssetRef{Kind: AssetRefExisting, ID: id}
		}
	}
	return AssetRef{Kind: AssetRefInvalid}
}

// newAsset is an upload which becomes a new asset
type newAsset struct {
	ID     uuid.UUID
	Upload int
}

// assetPlan lists the assets a document refers to after resolution
type assetPlan struct {
	Created    []newAsset
	Referenced []uuid.UUID
}

// ids returns the ids of all assets referenced by the document
func (p assetPlan) ids() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Created)+len(p.Referenced))
	for _, c := range p.Created {
		ids = append(ids, c.ID)
	}
	return append(ids, p.Referenced...)
}

// referencedAssetIDs returns the existing asset ids found in the binary fields of docs
func referencedAssetIDs(docs []map[string]interface{}, pointers []schema.Pointer) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, doc := range docs {
		schema.VisitBinary(doc, pointers, func(path []interface{}, value interface{}) interface{} {
			if ref := ClassifyAssetValue(value, 0); ref.Kind == AssetRefExisting && !seen[ref.ID] {
				seen[ref.ID] = true
				ids = append(ids, ref.ID)
			}
			return value
		})
	}
	return ids
}

// assetOwner is the resource a document is written to. ID is zero for new resources.
type assetOwner struct {
	Type      string
	ID        int
	Seed      bool
	Ephemeral bool
}

func ownerOf(res *resource) assetOwner {
	return assetOwner{Type: res.Type, ID: res.ID, Seed: res.Seed, Ephemeral: res.Ephemeral}
}

// canReference reports whether the owner may refer to an existing asset. The asset must
// share the seed and ephemeral flags of the owner and either be standalone or already
// belong to the owner.
func (o assetOwner) canReference(as *asset) bool {
	if as.Seed != o.Seed || as.Ephemeral != o.Ephemeral {
		return false
	}
	if as.ResourceID == nil {
		return true
	}
	return o.ID != 0 && as.ResourceType != nil && *as.ResourceType == o.Type && *as.ResourceID == o.ID
}

// resolveAssets resolves the binary fields of docs, owners[i] is the resource docs[i] is
// written to. Upload indices are replaced with the ids of new assets, existing asset ids
// must be among known and usable by the owner. Every upload must be referenced exactly
// once and a standalone asset by one document only. If list is true, error paths start
// with the document index.
func resolveAssets(docs []map[string]interface{}, list bool, uploadCount int, pointers []schema.Pointer, known map[uuid.UUID]*asset, owners []assetOwner) ([]assetPlan, schema.ValidationErrors) {
	plans := make([]assetPlan, len(docs))
	used := make([]bool, uploadCount)
	claimed := map[uuid.UUID]int{}
	var errs schema.ValidationErrors

	for i, doc := range docs {
		var prefix []interface{}
		if list {
			prefix = []interface{}{i}
		}
		plan := &plans[i]
		schema.VisitBinary(doc, pointers, func(path []interface{}, value interface{}) interface{} {
			fullPath := append(append([]interface{}{}, prefix...), path...)
			ref := ClassifyAssetValue(value, uploadCount)
			switch ref.Kind {
			case AssetRefUpload:
				if used[ref.Index] {
					errs = append(errs, schema.NewValidationError(fullPath, "binary",
						"is already referenced by another resource", "binary", value))
					return value
				}
				used[ref.Index] = true
				id := uuid.New()
				plan.Created = append(plan.Created, newAsset{ID: id, Upload: ref.Index})
				return id.String()
			case AssetRefExisting:
				if as, ok := known[ref.ID]; ok && owners[i].canReference(as) {
					if by, ok := claimed[ref.ID]; ok && by != i {
						errs = append(errs, schema.NewValidationError(fullPath, "binary",
							"is already referenced by another resource", "binary", value))
						return value
					}
					claimed[ref.ID] = i
					if !containsUUID(plan.Referenced, ref.ID) {
						plan.Referenced = append(plan.Referenced, ref.ID)
					}
					return value
				}
			}
			errs = append(errs, schema.NewValidationError(fullPath, "format",
				`does not conform to the "binary" format`, "binary", value))
			return value
		})
	}

	for i, u := range used {
		if !u {
			errs = append(errs, schema.NewValidationError([]interface{}{"assets", i}, "binary",
				"is not referenced from the resource", "binary", nil))
		}
	}
	return plans, errs
}

func containsUUID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
