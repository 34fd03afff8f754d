package content

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/repository"
	"github.com/hitoshi/portfolio/internal/security"
)

// mockPostRepo はメモリ上のPostRepository。createErrで保存失敗を再現する。
type mockPostRepo struct {
	posts     map[string]*model.Post
	createErr error
	lastList  model.PostFilter
}

func newMockPostRepo() *mockPostRepo {
	return &mockPostRepo{posts: map[string]*model.Post{}}
}

func (m *mockPostRepo) Create(_ context.Context, p *model.Post) error {
	if m.createErr != nil {
		return m.createErr
	}
	c := *p
	m.posts[p.ID] = &c
	return nil
}

func (m *mockPostRepo) Update(_ context.Context, p *model.Post) error {
	if _, ok := m.posts[p.ID]; !ok {
		return repository.ErrNotFound
	}
	c := *p
	m.posts[p.ID] = &c
	return nil
}

func (m *mockPostRepo) FindByID(_ context.Context, id string) (*model.Post, error) {
	p, ok := m.posts[id]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (m *mockPostRepo) FindBySlug(_ context.Context, slug string) (*model.Post, error) {
	for _, p := range m.posts {
		if p.Slug == slug {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (m *mockPostRepo) List(_ context.Context, filter model.PostFilter) ([]*model.Post, error) {
	m.lastList = filter
	var out []*model.Post
	for _, p := range m.posts {
		if filter.PublishedOnly && !p.Published {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockPostRepo) Count(context.Context) (int, int, error) {
	published := 0
	for _, p := range m.posts {
		if p.Published {
			published++
		}
	}
	return len(m.posts), published, nil
}

func (m *mockPostRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.posts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.posts, id)
	return nil
}

// mockPageRepo はメモリ上のPageRepository。
type mockPageRepo struct {
	pages map[string]*model.Page
}

func newMockPageRepo() *mockPageRepo {
	return &mockPageRepo{pages: map[string]*model.Page{}}
}

func (m *mockPageRepo) Create(_ context.Context, p *model.Page) error {
	c := *p
	m.pages[p.ID] = &c
	return nil
}

func (m *mockPageRepo) Update(_ context.Context, p *model.Page) error {
	if _, ok := m.pages[p.ID]; !ok {
		return repository.ErrNotFound
	}
	c := *p
	m.pages[p.ID] = &c
	return nil
}

func (m *mockPageRepo) FindByID(_ context.Context, id string) (*model.Page, error) {
	p, ok := m.pages[id]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (m *mockPageRepo) FindBySlug(_ context.Context, slug string) (*model.Page, error) {
	for _, p := range m.pages {
		if p.Slug == slug {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (m *mockPageRepo) List(context.Context) ([]*model.Page, error) {
	var out []*model.Page
	for _, p := range m.pages {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockPageRepo) Count(context.Context) (int, error) { return len(m.pages), nil }

func (m *mockPageRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.pages[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.pages, id)
	return nil
}

type testEnv struct {
	svc   *Service
	posts *mockPostRepo
	pages *mockPageRepo
	clock time.Time
}

func newTestEnv() *testEnv {
	env := &testEnv{
		posts: newMockPostRepo(),
		pages: newMockPageRepo(),
		clock: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	env.svc = NewService(env.posts, env.pages, security.NewContentSanitizer())
	seq := 0
	env.svc.newID = func() string {
		seq++
		return fmt.Sprintf("00000000-0000-4000-8000-%012d", seq)
	}
	env.svc.now = func() time.Time {
		env.clock = env.clock.Add(time.Minute)
		return env.clock
	}
	return env
}
