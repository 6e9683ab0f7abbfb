package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/history"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
	redisstore "github.com/MrSnakeDoc/namebroker/internal/store/redis"
)

type fakeRegistrar struct {
	added   []domain.ServiceMapping
	removed []domain.ServiceMapping
}

func (r *fakeRegistrar) AddLocal(m domain.ServiceMapping, h domain.CompletionHandler) {
	r.added = append(r.added, m)
	h.Succeeded()
}

func (r *fakeRegistrar) RemoveLocal(m domain.ServiceMapping) {
	r.removed = append(r.removed, m)
}

func (r *fakeRegistrar) reset() {
	r.added, r.removed = nil, nil
}

func writeMappings(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write mappings file: %v", err)
	}
}

func names(ms []domain.ServiceMapping) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Name+"="+m.Spec)
	}
	sort.Strings(out)
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStaticReloader_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	writeMappings(t, path, `
mappings:
  - name: svc-a
    spec: host1:9000
  - name: svc-b
    spec: host2:9000
`)

	reg := &fakeRegistrar{}
	sr := NewStaticReloader(path, reg, logger.Nop(), time.Hour, nil)

	if err := sr.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got, want := names(reg.added), []string{"svc-a=host1:9000", "svc-b=host2:9000"}; !equal(got, want) {
		t.Errorf("added = %v, want %v", got, want)
	}
	if len(reg.removed) != 0 {
		t.Errorf("removed = %v, want none", reg.removed)
	}

	// svc-a unchanged, svc-b moved, svc-c new
	writeMappings(t, path, `
mappings:
  - name: svc-a
    spec: host1:9000
  - name: svc-b
    spec: host3:9000
  - name: svc-c
    spec: host4:9000
`)
	reg.reset()
	if err := sr.Reload(context.Background()); err != nil {
		t.Fatalf("second Reload failed: %v", err)
	}
	if got, want := names(reg.removed), []string{"svc-b=host2:9000"}; !equal(got, want) {
		t.Errorf("removed = %v, want %v", got, want)
	}
	if got, want := names(reg.added), []string{"svc-b=host3:9000", "svc-c=host4:9000"}; !equal(got, want) {
		t.Errorf("added = %v, want %v", got, want)
	}

	writeMappings(t, path, "mappings: []\n")
	reg.reset()
	if err := sr.Reload(context.Background()); err != nil {
		t.Fatalf("third Reload failed: %v", err)
	}
	if len(reg.removed) != 3 {
		t.Errorf("removed %d mappings, want 3", len(reg.removed))
	}
	if len(sr.Active()) != 0 {
		t.Errorf("Active() = %v, want empty", sr.Active())
	}
}

func TestStaticReloader_ReloadKeepsStateOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	writeMappings(t, path, "mappings:\n  - name: svc-a\n    spec: host1:9000\n")

	reg := &fakeRegistrar{}
	sr := NewStaticReloader(path, reg, logger.Nop(), time.Hour, nil)
	if err := sr.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	writeMappings(t, path, "mappings:\n  - name: svc-a\n")
	reg.reset()
	if err := sr.Reload(context.Background()); err == nil {
		t.Fatal("expected error for mapping without spec")
	}
	if len(reg.added)+len(reg.removed) != 0 {
		t.Errorf("registrar touched after failed reload: added=%v removed=%v", reg.added, reg.removed)
	}
	if len(sr.Active()) != 1 {
		t.Errorf("Active() = %v, want svc-a", sr.Active())
	}
}

func TestHistoryCompactor_Compact(t *testing.T) {
	log := history.NewLog()
	for i := 0; i < 10; i++ {
		m := domain.ServiceMapping{Name: "svc", Spec: "host:" + string(rune('0'+i))}
		log.Append(m, i%2 == 0, false, domain.OriginLocal)
	}

	hc := NewHistoryCompactor(log, logger.Nop(), time.Hour, 4)

	if dropped := hc.Compact(); dropped != 6 {
		t.Errorf("Compact() dropped %d, want 6", dropped)
	}
	if log.Len() != 4 {
		t.Errorf("Len() = %d, want 4", log.Len())
	}
	if dropped := hc.Compact(); dropped != 0 {
		t.Errorf("second Compact() dropped %d, want 0", dropped)
	}
	if log.Version() != 10 {
		t.Errorf("Version() = %d, want 10", log.Version())
	}
}

func TestHistoryCompactor_DefaultRetain(t *testing.T) {
	hc := NewHistoryCompactor(history.NewLog(), logger.Nop(), time.Hour, 0)
	if hc.retain != DefaultHistoryRetain {
		t.Errorf("retain = %d, want %d", hc.retain, DefaultHistoryRetain)
	}
}

type fakeSource struct {
	regs []*redisstore.Registration
	err  error
}

func (s fakeSource) GetAllRegistrations(context.Context) ([]*redisstore.Registration, error) {
	return s.regs, s.err
}

func TestRegistrationRestorer_Restore(t *testing.T) {
	src := fakeSource{regs: []*redisstore.Registration{
		{Mapping: domain.ServiceMapping{Name: "svc-a", Spec: "host1:9000"}},
		{Mapping: domain.ServiceMapping{Name: "svc-b"}}, // invalid
		{Mapping: domain.ServiceMapping{Name: "svc-c", Spec: "host3:9000"}},
	}}
	reg := &fakeRegistrar{}

	rr := NewRegistrationRestorer(src, reg, logger.Nop())
	if _, err := rr.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if got, want := names(reg.added), []string{"svc-a=host1:9000", "svc-c=host3:9000"}; !equal(got, want) {
		t.Errorf("added = %v, want %v", got, want)
	}
}

func TestRegistrationRestorer_SourceError(t *testing.T) {
	boom := errors.New("connection refused")
	reg := &fakeRegistrar{}

	rr := NewRegistrationRestorer(fakeSource{err: boom}, reg, logger.Nop())
	if _, err := rr.Restore(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Restore() error = %v, want %v", err, boom)
	}
	if len(reg.added) != 0 {
		t.Errorf("added = %v, want none", reg.added)
	}
}
