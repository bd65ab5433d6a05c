package cloner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/cloner/internal/orm/memstore"
	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/orm/schema"
)

const blogSchema = `
resources:
  - name: Author
    fields:
      id: {type: uuid, annotations: [primary]}
      name: {type: string}
    relationships:
      profile: {type: has_one, target: Profile, foreign_key: author_id}
    clone:
      relations: [profile]
  - name: Profile
    fields:
      id: {type: uuid, annotations: [primary]}
      author_id: {type: uuid}
      bio: {type: text}
  - name: User
    fields:
      id: {type: uuid, annotations: [primary]}
      name: {type: string}
  - name: Photo
    fields:
      id: {type: uuid, annotations: [primary]}
      article_id: {type: uuid}
      image: {type: string, nullable: true}
      position: {type: int}
    clone:
      files: [image]
  - name: Article
    with_count: [photos]
    fields:
      id: {type: uuid, annotations: [primary]}
      title: {type: string}
      author_id: {type: uuid, nullable: true}
      photos_count: {type: int}
    relationships:
      author: {type: belongs_to, target: Author, foreign_key: author_id}
      photos: {type: has_many, target: Photo, order_by: position}
      ratings: {type: has_many_through, target: User, join_table: article_user, join_key: id, join_timestamps: true}
    clone:
      relations: [photos, author, ratings]
`

type fixture struct {
	registry *schema.Registry
	primary  *memstore.Store
	archive  *memstore.Store
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	registry, err := schema.Parse([]byte(blogSchema))
	require.NoError(t, err)

	return &fixture{
		registry: registry,
		primary:  memstore.New("primary", registry),
		archive:  memstore.New("archive", registry),
	}
}

func (f *fixture) engine(opts ...Option) *Engine {
	base := []Option{
		WithStore("primary", f.primary),
		WithStore("archive", f.archive),
		WithDefaultDatastore("primary"),
	}
	return New(append(base, opts...)...)
}

func (f *fixture) resource(t *testing.T, name string) *schema.ResourceSchema {
	t.Helper()
	res, err := f.registry.Lookup(name)
	require.NoError(t, err)
	return res
}

func (f *fixture) seed(t *testing.T, resource string, attrs map[string]interface{}) *record.Record {
	t.Helper()

	rec := record.New(f.resource(t, resource))
	for k, v := range attrs {
		rec.Set(k, v)
	}
	require.NoError(t, f.primary.Insert(context.Background(), rec))
	rec.SetDatastore("primary")
	return rec
}

func (f *fixture) attachRating(t *testing.T, article, user *record.Record, rating int) {
	t.Helper()
	rel := article.Resource.Relationships["ratings"]
	require.NoError(t, f.primary.Attach(context.Background(), article, rel, user, map[string]interface{}{"rating": rating}))
}

// seedArticle creates an article with an author, two photos and two ratings
func (f *fixture) seedArticle(t *testing.T) *record.Record {
	t.Helper()

	f.seed(t, "Author", map[string]interface{}{"id": "author-1", "name": "Ada"})
	article := f.seed(t, "Article", map[string]interface{}{
		"id":           "article-1",
		"title":        "Graphs",
		"author_id":    "author-1",
		"photos_count": 2,
	})
	f.seed(t, "Photo", map[string]interface{}{"id": "photo-1", "article_id": "article-1", "image": "photos/a.jpg", "position": 1})
	f.seed(t, "Photo", map[string]interface{}{"id": "photo-2", "article_id": "article-1", "image": "photos/b.jpg", "position": 2})

	u1 := f.seed(t, "User", map[string]interface{}{"id": "user-1", "name": "Grace"})
	u2 := f.seed(t, "User", map[string]interface{}{"id": "user-2", "name": "Linus"})
	f.attachRating(t, article, u1, 4)
	f.attachRating(t, article, u2, 5)

	return article
}

func (f *fixture) photosOf(t *testing.T, store *memstore.Store, articleID interface{}) []*record.Record {
	t.Helper()
	var out []*record.Record
	for _, photo := range store.All(f.resource(t, "Photo")) {
		if photo.Get("article_id") == articleID {
			out = append(out, photo)
		}
	}
	return out
}

func joinRowsOf(store *memstore.Store, articleID interface{}) []map[string]interface{} {
	var out []map[string]interface{}
	for _, row := range store.JoinRows("article_user") {
		if row["article_id"] == articleID {
			out = append(out, row)
		}
	}
	return out
}

// exemptTitle adds title to the default exemptions
type exemptTitle struct {
	Defaults
}

func (exemptTitle) ExemptAttributes(rec *record.Record) []string {
	return append(rec.Resource.CloneExemptAttributes(), "title")
}

// exemptNameOnly replaces the default exemptions with a single attribute
type exemptNameOnly struct {
	Defaults
}

func (exemptNameOnly) ExemptAttributes(*record.Record) []string {
	return []string{"name"}
}

// onlyRelations overrides the traversed relations
type onlyRelations struct {
	Defaults
	relations []string
}

func (b onlyRelations) CloneableRelations(*record.Record) []string {
	return b.relations
}

// childRecorder records the child flag passed to OnCloning
type childRecorder struct {
	Defaults
	seen *[]bool
}

func (b childRecorder) OnCloning(_ context.Context, _, _ *record.Record, child bool) error {
	*b.seen = append(*b.seen, child)
	return nil
}

// failingHook fails the cloning hook
type failingHook struct {
	Defaults
}

func (failingHook) OnCloning(context.Context, *record.Record, *record.Record, bool) error {
	return errors.New("vetoed")
}

// failingStore rejects inserts of one resource
type failingStore struct {
	Store
	resource string
}

func (s failingStore) Insert(ctx context.Context, rec *record.Record) error {
	if rec.TypeName() == s.resource {
		return errors.New("disk full")
	}
	return s.Store.Insert(ctx, rec)
}

func TestDuplicate_CopiesAttributes(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	clone, err := f.engine().Duplicate(context.Background(), article)
	require.NoError(t, err)

	assert.True(t, clone.Exists())
	assert.NotEqual(t, article.ID(), clone.ID())
	assert.Equal(t, "Graphs", clone.Get("title"))
	assert.Nil(t, clone.Get("photos_count"))
	assert.NotNil(t, clone.Get(schema.CreatedAtField))

	found, err := f.primary.Find(context.Background(), f.resource(t, "Article"), clone.ID())
	require.NoError(t, err)
	assert.Equal(t, "Graphs", found.Get("title"))

	// The source is untouched
	source, err := f.primary.Find(context.Background(), f.resource(t, "Article"), "article-1")
	require.NoError(t, err)
	assert.Equal(t, "author-1", source.Get("author_id"))
	assert.Equal(t, 2, source.Get("photos_count"))
}

func TestDuplicate_DeclaredExemptions(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	e := f.engine(WithBehavior("Article", exemptTitle{}))
	clone, err := e.Duplicate(context.Background(), article)
	require.NoError(t, err)

	assert.False(t, clone.Has("title"))
	assert.False(t, clone.Has("photos_count"))
	assert.Equal(t, "Graphs", article.Get("title"))
}

func TestDuplicate_IdentityNeverCopied(t *testing.T) {
	f := setupFixture(t)
	author := f.seed(t, "Author", map[string]interface{}{"id": "author-1", "name": "Ada"})
	created := author.Get(schema.CreatedAtField)

	var seen *record.Record
	pub := EventPublisherFunc(func(_ context.Context, name string, clone, _ *record.Record) error {
		if name == CloningEvent("Author") {
			seen = clone.Snapshot()
		}
		return nil
	})

	clone, err := f.engine(WithBehavior("Author", exemptNameOnly{}), WithEvents(pub)).Duplicate(context.Background(), author)
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.False(t, seen.Has("id"))
	assert.False(t, seen.Has(schema.CreatedAtField))
	assert.False(t, seen.Has(schema.UpdatedAtField))
	assert.False(t, seen.Has("name"))

	assert.NotEqual(t, "author-1", clone.ID())
	assert.Len(t, f.primary.All(f.resource(t, "Author")), 2)
	assert.Equal(t, created, author.Get(schema.CreatedAtField))
}

func TestDuplicate_SchemaExemptions(t *testing.T) {
	f := setupFixture(t)
	f.resource(t, "Author").Clone.ExemptAttributes = []string{"name"}
	author := f.seed(t, "Author", map[string]interface{}{"id": "author-1", "name": "Ada"})

	clone, err := f.engine().Duplicate(context.Background(), author)
	require.NoError(t, err)
	assert.False(t, clone.Has("name"))
}

func TestDuplicate_HasManyChildrenCloned(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	clone, err := f.engine().Duplicate(context.Background(), article)
	require.NoError(t, err)

	original := f.photosOf(t, f.primary, "article-1")
	copied := f.photosOf(t, f.primary, clone.ID())
	require.Len(t, original, 2)
	require.Len(t, copied, 2)

	assert.Equal(t, 1, copied[0].Get("position"))
	assert.Equal(t, 2, copied[1].Get("position"))
	for _, photo := range copied {
		assert.NotEqual(t, "photo-1", photo.ID())
		assert.NotEqual(t, "photo-2", photo.ID())
	}
}

func TestDuplicate_BelongsToClonedAndRelinked(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	clone, err := f.engine().Duplicate(context.Background(), article)
	require.NoError(t, err)

	authors := f.primary.All(f.resource(t, "Author"))
	require.Len(t, authors, 2)

	newAuthor := clone.Get("author_id")
	assert.NotNil(t, newAuthor)
	assert.NotEqual(t, "author-1", newAuthor)
	assert.Equal(t, authors[1].ID(), newAuthor)
	assert.Equal(t, "Ada", authors[1].Get("name"))

	found, err := f.primary.Find(context.Background(), f.resource(t, "Article"), clone.ID())
	require.NoError(t, err)
	assert.Equal(t, newAuthor, found.Get("author_id"))
}

func TestDuplicate_HasOneChildCloned(t *testing.T) {
	f := setupFixture(t)
	author := f.seed(t, "Author", map[string]interface{}{"id": "author-1", "name": "Ada"})
	f.seed(t, "Profile", map[string]interface{}{"id": "profile-1", "author_id": "author-1", "bio": "Countess"})

	clone, err := f.engine().Duplicate(context.Background(), author)
	require.NoError(t, err)

	profiles := f.primary.All(f.resource(t, "Profile"))
	require.Len(t, profiles, 2)
	assert.Equal(t, "author-1", profiles[0].Get("author_id"))

	copied := profiles[1]
	assert.NotEqual(t, "profile-1", copied.ID())
	assert.Equal(t, clone.ID(), copied.Get("author_id"))
	assert.Equal(t, "Countess", copied.Get("bio"))
}

func TestDuplicate_SelfReferentialTree(t *testing.T) {
	registry, err := schema.Parse([]byte(`
resources:
  - name: Page
    fields:
      id: {type: uuid, annotations: [primary]}
      page_id: {type: uuid, nullable: true}
      title: {type: string}
    relationships:
      children: {type: has_many, target: Page, foreign_key: page_id, order_by: title}
    clone:
      relations: [children]
`))
	require.NoError(t, err)
	store := memstore.New("primary", registry)
	pageRes, err := registry.Lookup("Page")
	require.NoError(t, err)

	ctx := context.Background()
	insert := func(id, parent, title string) *record.Record {
		page := record.New(pageRes)
		page.Set("id", id)
		page.Set("title", title)
		if parent != "" {
			page.Set("page_id", parent)
		}
		require.NoError(t, store.Insert(ctx, page))
		return page
	}
	root := insert("page-1", "", "root")
	insert("page-2", "page-1", "child")
	insert("page-3", "page-2", "grandchild")

	engine := New(WithStore("primary", store), WithDefaultDatastore("primary"))
	clone, err := engine.Duplicate(ctx, root)
	require.NoError(t, err)

	pages := store.All(pageRes)
	require.Len(t, pages, 6)

	byTitle := map[string]*record.Record{}
	for _, page := range pages[3:] {
		byTitle[page.Get("title").(string)] = page
	}
	require.Len(t, byTitle, 3)
	assert.Equal(t, clone.ID(), byTitle["root"].ID())
	assert.Nil(t, byTitle["root"].Get("page_id"))
	assert.Equal(t, byTitle["root"].ID(), byTitle["child"].Get("page_id"))
	assert.Equal(t, byTitle["child"].ID(), byTitle["grandchild"].Get("page_id"))
}

func TestDuplicate_BelongsToWithoutTarget(t *testing.T) {
	f := setupFixture(t)
	article := f.seed(t, "Article", map[string]interface{}{"id": "article-1", "title": "Alone"})

	clone, err := f.engine().Duplicate(context.Background(), article)
	require.NoError(t, err)
	assert.Nil(t, clone.Get("author_id"))
	assert.Empty(t, f.primary.All(f.resource(t, "Author")))
}

func TestDuplicate_PivotedRelationReattached(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	clone, err := f.engine().Duplicate(context.Background(), article)
	require.NoError(t, err)

	// Targets are shared, not cloned
	assert.Len(t, f.primary.All(f.resource(t, "User")), 2)

	source := joinRowsOf(f.primary, "article-1")
	copied := joinRowsOf(f.primary, clone.ID())
	require.Len(t, copied, 2)

	for i := range copied {
		assert.Equal(t, source[i]["user_id"], copied[i]["user_id"])
		assert.Equal(t, source[i]["rating"], copied[i]["rating"])
		assert.NotEqual(t, source[i]["id"], copied[i]["id"])
		assert.NotNil(t, copied[i][schema.CreatedAtField])
	}
}

func TestDuplicate_Attachments(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)
	f.seed(t, "Photo", map[string]interface{}{"id": "photo-3", "article_id": "article-1", "position": 3})

	var owners []string
	calls := 0
	dup := AttachmentDuplicatorFunc(func(_ context.Context, reference string, owner *record.Record) (string, error) {
		calls++
		owners = append(owners, owner.TypeName())
		return fmt.Sprintf("copy-%d/%s", calls, reference), nil
	})

	clone, err := f.engine(WithAttachments(dup)).Duplicate(context.Background(), article)
	require.NoError(t, err)

	// The photo without an image is skipped
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"Photo", "Photo"}, owners)

	copied := f.photosOf(t, f.primary, clone.ID())
	require.Len(t, copied, 3)
	assert.Equal(t, "copy-1/photos/a.jpg", copied[0].Get("image"))
	assert.Equal(t, "copy-2/photos/b.jpg", copied[1].Get("image"))
	assert.Nil(t, copied[2].Get("image"))

	original := f.photosOf(t, f.primary, "article-1")
	assert.Equal(t, "photos/a.jpg", original[0].Get("image"))
	assert.Equal(t, "photos/b.jpg", original[1].Get("image"))
}

func TestDuplicate_AttachmentsCopiedVerbatimWithoutDuplicator(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	clone, err := f.engine().Duplicate(context.Background(), article)
	require.NoError(t, err)

	copied := f.photosOf(t, f.primary, clone.ID())
	require.Len(t, copied, 2)
	assert.Equal(t, "photos/a.jpg", copied[0].Get("image"))
}

func TestDuplicate_AttachmentFailure(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	dup := AttachmentDuplicatorFunc(func(context.Context, string, *record.Record) (string, error) {
		return "", errors.New("bucket gone")
	})

	_, err := f.engine(WithAttachments(dup)).Duplicate(context.Background(), article)
	require.Error(t, err)
	assert.True(t, IsAttachmentFailure(err))
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestDuplicate_EventOrder(t *testing.T) {
	f := setupFixture(t)
	f.seed(t, "Author", map[string]interface{}{"id": "author-1", "name": "Ada"})
	article := f.seed(t, "Article", map[string]interface{}{"id": "article-1", "author_id": "author-1"})
	f.seed(t, "Photo", map[string]interface{}{"id": "photo-1", "article_id": "article-1"})

	var events []string
	var persistedAtCloning []bool
	pub := EventPublisherFunc(func(_ context.Context, name string, clone, src *record.Record) error {
		events = append(events, name)
		persistedAtCloning = append(persistedAtCloning, clone.Exists())
		assert.Equal(t, clone.TypeName(), src.TypeName())
		return nil
	})

	_, err := f.engine(WithEvents(pub)).Duplicate(context.Background(), article)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"cloning: Article",
		"cloning: Photo",
		"cloned: Photo",
		"cloning: Author",
		"cloned: Author",
		"cloned: Article",
	}, events)
	assert.Equal(t, []bool{false, false, true, false, true, true}, persistedAtCloning)
}

func TestDuplicate_EventErrorAborts(t *testing.T) {
	f := setupFixture(t)
	article := f.seed(t, "Article", map[string]interface{}{"id": "article-1"})

	pub := EventPublisherFunc(func(_ context.Context, name string, _, _ *record.Record) error {
		if name == CloningEvent("Article") {
			return errors.New("listener refused")
		}
		return nil
	})

	_, err := f.engine(WithEvents(pub)).Duplicate(context.Background(), article)
	require.Error(t, err)
	assert.Len(t, f.primary.All(f.resource(t, "Article")), 1)
}

func TestDuplicate_ChildFlag(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	var articleSeen, photoSeen []bool
	e := f.engine(
		WithBehavior("Article", childRecorder{seen: &articleSeen}),
		WithBehavior("Photo", childRecorder{seen: &photoSeen}),
	)

	_, err := e.Duplicate(context.Background(), article)
	require.NoError(t, err)

	assert.Equal(t, []bool{false}, articleSeen)
	assert.Equal(t, []bool{true, true}, photoSeen)

	// A child cloned on its own is not a child
	photoSeen = nil
	photo, err := f.primary.Find(context.Background(), f.resource(t, "Photo"), "photo-1")
	require.NoError(t, err)
	_, err = e.Duplicate(context.Background(), photo)
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, photoSeen)
}

func TestDuplicate_HookErrorAborts(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	_, err := f.engine(WithBehavior("Photo", failingHook{})).Duplicate(context.Background(), article)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vetoed")

	// Work done before the failure is kept
	assert.Len(t, f.primary.All(f.resource(t, "Article")), 2)
	assert.Len(t, f.primary.All(f.resource(t, "Photo")), 2)
}

func TestDuplicate_UnknownRelation(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	e := f.engine(WithBehavior("Article", onlyRelations{relations: []string{"comments"}}))
	_, err := e.Duplicate(context.Background(), article)
	require.Error(t, err)
	assert.True(t, IsRelationResolutionFailure(err))
}

func TestDuplicate_RelationOrderFollowsDeclaration(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	var events []string
	pub := EventPublisherFunc(func(_ context.Context, name string, _, _ *record.Record) error {
		events = append(events, name)
		return nil
	})

	e := f.engine(WithEvents(pub), WithBehavior("Article", onlyRelations{relations: []string{"author", "photos"}}))
	_, err := e.Duplicate(context.Background(), article)
	require.NoError(t, err)

	require.Len(t, events, 8)
	assert.Equal(t, "cloning: Author", events[1])
	assert.Equal(t, "cloning: Photo", events[3])
}

func TestDuplicate_PersistenceFailure(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	e := New(
		WithStore("primary", failingStore{Store: f.primary, resource: "Photo"}),
		WithDefaultDatastore("primary"),
	)

	_, err := e.Duplicate(context.Background(), article)
	require.Error(t, err)
	assert.True(t, IsPersistenceFailure(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestDuplicate_UnknownDatastore(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	_, err := f.engine().DuplicateTo(context.Background(), article, "missing")
	assert.True(t, errors.Is(err, ErrUnknownDatastore))

	article.SetDatastore("missing")
	_, err = f.engine().Duplicate(context.Background(), article)
	assert.True(t, errors.Is(err, ErrUnknownDatastore))
}

func TestDuplicateTo_OtherDatastore(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)

	clone, err := f.engine().DuplicateTo(context.Background(), article, "archive")
	require.NoError(t, err)
	assert.Equal(t, "archive", clone.Datastore())

	found, err := f.archive.Find(context.Background(), f.resource(t, "Article"), clone.ID())
	require.NoError(t, err)
	assert.Equal(t, "Graphs", found.Get("title"))

	// Direct relations follow the clone
	assert.Len(t, f.photosOf(t, f.archive, clone.ID()), 2)
	authors := f.archive.All(f.resource(t, "Author"))
	require.Len(t, authors, 1)
	assert.Equal(t, authors[0].ID(), found.Get("author_id"))

	// Pivoted relations are skipped
	assert.Empty(t, f.archive.JoinRows("article_user"))
	assert.Len(t, f.primary.JoinRows("article_user"), 2)

	// The source datastore gains nothing
	assert.Len(t, f.primary.All(f.resource(t, "Article")), 1)
	assert.Len(t, f.primary.All(f.resource(t, "Photo")), 2)
	assert.Len(t, f.primary.All(f.resource(t, "Author")), 1)
}

func TestDuplicate_ThenDuplicateToDoesNotLeak(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)
	e := f.engine()

	_, err := e.DuplicateTo(context.Background(), article, "archive")
	require.NoError(t, err)

	clone, err := e.Duplicate(context.Background(), article)
	require.NoError(t, err)
	assert.Equal(t, "primary", clone.Datastore())
	assert.Len(t, joinRowsOf(f.primary, clone.ID()), 2)
}

func TestDerive(t *testing.T) {
	f := setupFixture(t)
	article := f.seed(t, "Article", map[string]interface{}{"id": "article-1", "title": "T"})

	base := f.engine()
	derived := base.Derive(WithBehavior("Article", exemptTitle{}))

	clone, err := derived.Duplicate(context.Background(), article)
	require.NoError(t, err)
	assert.False(t, clone.Has("title"))

	clone, err = base.Duplicate(context.Background(), article)
	require.NoError(t, err)
	assert.Equal(t, "T", clone.Get("title"))
}

func TestDuplicate_ConcurrentCalls(t *testing.T) {
	f := setupFixture(t)
	article := f.seedArticle(t)
	e := f.engine()

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			var err error
			if i%2 == 0 {
				_, err = e.Duplicate(context.Background(), article)
			} else {
				_, err = e.DuplicateTo(context.Background(), article, "archive")
			}
			errs <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}

	assert.Len(t, f.primary.All(f.resource(t, "Article")), 5)
	assert.Len(t, f.archive.All(f.resource(t, "Article")), 4)
	assert.Empty(t, f.archive.JoinRows("article_user"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindToOneOwning, KindOf(schema.RelationshipBelongsTo))
	assert.Equal(t, KindToManyDirect, KindOf(schema.RelationshipHasMany))
	assert.Equal(t, KindToManyDirect, KindOf(schema.RelationshipHasOne))
	assert.Equal(t, KindToManyPivoted, KindOf(schema.RelationshipHasManyThrough))
	assert.Equal(t, "to-many-pivoted", KindToManyPivoted.String())
}

func TestRelationSave(t *testing.T) {
	f := setupFixture(t)
	article := f.seed(t, "Article", map[string]interface{}{"id": "article-1", "title": "Graphs"})

	photos := &Relation{Name: "photos", Schema: article.Resource.Relationships["photos"], Owner: article}
	photo := record.New(f.resource(t, "Photo"))
	photo.SetDatastore("primary")
	require.NoError(t, photos.Save(context.Background(), f.primary, photo))
	assert.True(t, photo.Exists())
	assert.Equal(t, "article-1", photo.Get("article_id"))

	for _, name := range []string{"author", "ratings"} {
		rel := &Relation{Name: name, Schema: article.Resource.Relationships[name], Owner: article}
		err := rel.Save(context.Background(), f.primary, record.New(f.resource(t, "Author")))
		assert.ErrorIs(t, err, ErrRelationResolution, name)
	}
}

func TestPivotAttributes(t *testing.T) {
	owner := schema.NewResourceSchema("Article")
	rel := &schema.Relationship{
		Type:           schema.RelationshipHasManyThrough,
		TargetResource: "User",
		JoinTable:      "article_user",
		JoinKey:        "id",
	}

	pivot := map[string]interface{}{
		"id":                  7,
		"article_id":          "a",
		"user_id":             "u",
		"rating":              5,
		"tags":                []string{"x"},
		schema.CreatedAtField: "then",
		schema.UpdatedAtField: "then",
	}

	out := pivotAttributes(rel, owner, pivot)
	assert.Equal(t, map[string]interface{}{"rating": 5, "tags": []string{"x"}}, out)

	out["tags"].([]string)[0] = "y"
	assert.Equal(t, "x", pivot["tags"].([]string)[0])
}
