package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"scenariocore/internal/core"
	"scenariocore/pkg/domain"
)

type fakeBackend struct {
	doc        domain.DatabaseDocument
	fetchErr   error
	saveErr    error
	fetchCalls int
	saveCalls  int
	saved      domain.DatabaseDocument
}

func (f *fakeBackend) FetchDatabases(context.Context, string, string) (domain.DatabaseDocument, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.doc.Clone(), nil
}

func (f *fakeBackend) SaveDatabases(_ context.Context, _, _ string, doc domain.DatabaseDocument) error {
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = doc.Clone()
	return nil
}

func testDocument() domain.DatabaseDocument {
	return domain.DatabaseDocument{
		"ASSEMBLIES": {
			"ENVELOPE": domain.Table{
				"CONSTRUCTION_AS1": {"code": "CONSTRUCTION_AS1", "Cm_Af": float64(165), "Description": "Medium"},
			},
		},
	}
}

func envelopeKey(t *testing.T) DataKey {
	t.Helper()
	key, err := ParseDataKey("ASSEMBLIES/ENVELOPE")
	if err != nil {
		t.Fatalf("parse data key: %v", err)
	}
	return key
}

func openTracker(t *testing.T, backend *fakeBackend, opts ...Option) *Tracker {
	t.Helper()
	tracker, err := Open(context.Background(), backend, "demo", "baseline", opts...)
	if err != nil {
		t.Fatalf("open tracker: %v", err)
	}
	return tracker
}

func TestParseDataKey(t *testing.T) {
	cases := []struct {
		path    string
		wantErr bool
	}{
		{"ASSEMBLIES/ENVELOPE", false},
		{"COMPONENTS/CONVERSION", false},
		{"ASSEMBLIES", true},
		{"/ENVELOPE", true},
		{"ASSEMBLIES/", true},
		{"", true},
	}
	for _, tc := range cases {
		key, err := ParseDataKey(tc.path)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q", tc.path)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parse %q: %v", tc.path, err)
		}
		if key.String() != tc.path {
			t.Fatalf("round trip %q -> %q", tc.path, key.String())
		}
	}
}

func TestUpdateComponentRecordsAndReverts(t *testing.T) {
	backend := &fakeBackend{doc: testDocument()}
	tracker := openTracker(t, backend)
	key := envelopeKey(t)

	if err := tracker.UpdateComponent(key, "CONSTRUCTION_AS1", "Cm_Af", float64(300)); err != nil {
		t.Fatalf("update: %v", err)
	}
	changes := tracker.Changes()
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	rec := changes[0]
	if rec.Kind != domain.KindUpdate || rec.Entity != "CONSTRUCTION_AS1" || rec.Field != "Cm_Af" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Old != float64(165) || rec.New != float64(300) {
		t.Fatalf("unexpected delta %v -> %v", rec.Old, rec.New)
	}
	row, _ := tracker.Component(key, "CONSTRUCTION_AS1")
	if row["Cm_Af"] != float64(300) {
		t.Fatalf("document not updated: %v", row["Cm_Af"])
	}

	if err := tracker.UpdateComponent(key, "CONSTRUCTION_AS1", "Cm_Af", float64(165)); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if tracker.Dirty() {
		t.Fatalf("expected clean ledger after revert, got %+v", tracker.Changes())
	}
}

func TestUpdateComponentCoercesNumericStrings(t *testing.T) {
	backend := &fakeBackend{doc: testDocument()}
	schema := domain.Schema{
		"ASSEMBLIES/ENVELOPE": {"Cm_Af": {Type: domain.ColumnNumber}},
	}
	tracker := openTracker(t, backend, WithSchema(schema))
	key := envelopeKey(t)

	if err := tracker.UpdateComponent(key, "CONSTRUCTION_AS1", "Cm_Af", "300"); err != nil {
		t.Fatalf("update: %v", err)
	}
	row, _ := tracker.Component(key, "CONSTRUCTION_AS1")
	if row["Cm_Af"] != float64(300) {
		t.Fatalf("expected coerced 300, got %v (%T)", row["Cm_Af"], row["Cm_Af"])
	}
}

func TestUpdateUnknownComponentFails(t *testing.T) {
	tracker := openTracker(t, &fakeBackend{doc: testDocument()})
	err := tracker.UpdateComponent(envelopeKey(t), "MISSING", "Cm_Af", float64(1))
	var notFound core.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAndDuplicateComponents(t *testing.T) {
	tracker := openTracker(t, &fakeBackend{doc: testDocument()})
	key := envelopeKey(t)

	if err := tracker.CreateComponent(key, "CONSTRUCTION_AS9", domain.Record{"Cm_Af": float64(90)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tracker.CreateComponent(key, "CONSTRUCTION_AS9", nil); err == nil {
		t.Fatal("expected duplicate-code error")
	}
	if err := tracker.DuplicateComponent(key, "CONSTRUCTION_AS1", "CONSTRUCTION_AS1_COPY"); err != nil {
		t.Fatalf("duplicate: %v", err)
	}

	copyRow, ok := tracker.Component(key, "CONSTRUCTION_AS1_COPY")
	if !ok {
		t.Fatal("expected duplicated row")
	}
	if copyRow["code"] != "CONSTRUCTION_AS1_COPY" {
		t.Fatalf("expected rewritten code, got %v", copyRow["code"])
	}
	if copyRow["Cm_Af"] != float64(165) {
		t.Fatalf("expected copied Cm_Af, got %v", copyRow["Cm_Af"])
	}

	changes := tracker.Changes()
	if len(changes) != 2 {
		t.Fatalf("expected 2 records, got %+v", changes)
	}
	if changes[0].Kind != domain.KindCreate || changes[0].Entity != "CONSTRUCTION_AS9" {
		t.Fatalf("unexpected create record %+v", changes[0])
	}
	if changes[1].Kind != domain.KindDuplicate || changes[1].Source != "CONSTRUCTION_AS1" {
		t.Fatalf("unexpected duplicate record %+v", changes[1])
	}
}

func TestDeletePurgesPendingUpdates(t *testing.T) {
	tracker := openTracker(t, &fakeBackend{doc: testDocument()})
	key := envelopeKey(t)

	if err := tracker.UpdateComponent(key, "CONSTRUCTION_AS1", "Cm_Af", float64(1)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tracker.DeleteComponents(key, "CONSTRUCTION_AS1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	changes := tracker.Changes()
	if len(changes) != 1 || changes[0].Kind != domain.KindDelete {
		t.Fatalf("expected single delete record, got %+v", changes)
	}
	if _, ok := tracker.Component(key, "CONSTRUCTION_AS1"); ok {
		t.Fatal("expected row removed from document")
	}
}

func TestSaveSubmitsAndResets(t *testing.T) {
	backend := &fakeBackend{doc: testDocument()}
	tracker := openTracker(t, backend)
	key := envelopeKey(t)

	if err := tracker.Save(context.Background()); !errors.Is(err, core.ErrNoChanges) {
		t.Fatalf("expected ErrNoChanges, got %v", err)
	}

	if err := tracker.UpdateComponent(key, "CONSTRUCTION_AS1", "Cm_Af", float64(300)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tracker.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if backend.saveCalls != 1 {
		t.Fatalf("expected 1 save call, got %d", backend.saveCalls)
	}
	saved, _ := backend.saved.Lookup("ASSEMBLIES", "ENVELOPE")
	if saved["CONSTRUCTION_AS1"]["Cm_Af"] != float64(300) {
		t.Fatalf("expected optimistic value submitted, got %v", saved["CONSTRUCTION_AS1"]["Cm_Af"])
	}
	if tracker.Dirty() {
		t.Fatal("expected clean ledger after save")
	}
}

func TestSaveFailurePreservesLedger(t *testing.T) {
	backend := &fakeBackend{doc: testDocument(), saveErr: fmt.Errorf("backend returned status 500")}
	tracker := openTracker(t, backend)
	key := envelopeKey(t)

	if err := tracker.UpdateComponent(key, "CONSTRUCTION_AS1", "Cm_Af", float64(300)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tracker.Save(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
	if !tracker.Dirty() {
		t.Fatal("expected ledger preserved after failed save")
	}
	row, _ := tracker.Component(key, "CONSTRUCTION_AS1")
	if row["Cm_Af"] != float64(300) {
		t.Fatal("expected optimistic value preserved after failed save")
	}
}

func TestSaveBlockedByValidation(t *testing.T) {
	max := float64(200)
	schema := domain.Schema{
		"ASSEMBLIES/ENVELOPE": {"Cm_Af": {Type: domain.ColumnNumber, Max: &max}},
	}
	backend := &fakeBackend{doc: testDocument()}
	tracker := openTracker(t, backend, WithSchema(schema))
	key := envelopeKey(t)

	if err := tracker.UpdateComponent(key, "CONSTRUCTION_AS1", "Cm_Af", float64(999)); err != nil {
		t.Fatalf("update: %v", err)
	}
	err := tracker.Save(context.Background())
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if backend.saveCalls != 0 {
		t.Fatalf("expected no save call, got %d", backend.saveCalls)
	}
	if !tracker.Dirty() {
		t.Fatal("expected ledger preserved when validation blocks save")
	}
}

func TestDiscardRequiresSuccessfulResync(t *testing.T) {
	backend := &fakeBackend{doc: testDocument()}
	tracker := openTracker(t, backend)
	key := envelopeKey(t)

	if err := tracker.UpdateComponent(key, "CONSTRUCTION_AS1", "Cm_Af", float64(300)); err != nil {
		t.Fatalf("update: %v", err)
	}

	backend.fetchErr = fmt.Errorf("backend unreachable")
	if err := tracker.Discard(context.Background()); err == nil {
		t.Fatal("expected discard error")
	}
	if !tracker.Dirty() {
		t.Fatal("expected ledger preserved after failed resync")
	}
	row, _ := tracker.Component(key, "CONSTRUCTION_AS1")
	if row["Cm_Af"] != float64(300) {
		t.Fatal("expected optimistic document preserved after failed resync")
	}

	backend.fetchErr = nil
	if err := tracker.Discard(context.Background()); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if tracker.Dirty() {
		t.Fatal("expected clean ledger after resync")
	}
	row, _ = tracker.Component(key, "CONSTRUCTION_AS1")
	if row["Cm_Af"] != float64(165) {
		t.Fatalf("expected baseline restored, got %v", row["Cm_Af"])
	}
}

func TestUpdateMarksProvenance(t *testing.T) {
	doc := testDocument()
	doc["ASSEMBLIES"]["ENVELOPE"]["CONSTRUCTION_AS1"][domain.ReferenceField] = "CH-arch-2022"
	tracker := openTracker(t, &fakeBackend{doc: doc})
	key := envelopeKey(t)

	if err := tracker.UpdateComponent(key, "CONSTRUCTION_AS1", "Cm_Af", float64(1)); err != nil {
		t.Fatalf("update: %v", err)
	}
	row, _ := tracker.Component(key, "CONSTRUCTION_AS1")
	if row[domain.ReferenceField] != domain.UserEditMarker {
		t.Fatalf("expected provenance marker, got %v", row[domain.ReferenceField])
	}
}
