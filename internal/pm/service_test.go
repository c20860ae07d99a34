package pm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pwm-go/internal/auth"
	"pwm-go/internal/database"
	"pwm-go/internal/envelope"
	"pwm-go/internal/model"
	"pwm-go/internal/pm"
	"pwm-go/internal/testutil"
)

func newTestService(t *testing.T) (*pm.Service, *database.SQLiteDatabase, *auth.Manager) {
	t.Helper()
	db := testutil.NewTestDatabase(t)
	session := testutil.NewUnlockedManager(t)
	svc := pm.NewService(db, session, pm.NewNopLogger(), testutil.FixedClock())
	return svc, db, session
}

func mustAdd(t *testing.T, svc *pm.Service, title string, secret model.SecretFields, opts ...model.RecordOption) int64 {
	t.Helper()
	in, err := model.NewRecordInput(title, secret, opts...)
	if err != nil {
		t.Fatalf("NewRecordInput() error = %v", err)
	}
	id, err := svc.AddPassword(context.Background(), in)
	if err != nil {
		t.Fatalf("AddPassword() error = %v", err)
	}
	return id
}

func TestService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, _, session := newTestService(t)

	id := mustAdd(t, svc, "Email", model.SecretFields{Username: "alice", Password: "hunter2"})

	session.Logout()
	if err := session.Authenticate("wrong"); !errors.Is(err, model.ErrInvalidCredential) {
		t.Fatalf("Authenticate(wrong) error = %v, want ErrInvalidCredential", err)
	}
	if err := session.Authenticate(testutil.TestMasterPassword); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	views, err := svc.GetPasswords(ctx, model.AllCategories)
	if err != nil {
		t.Fatalf("GetPasswords() error = %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("len(GetPasswords()) = %d, want 1", len(views))
	}
	got := views[0]
	if got.ID != id || got.Title != "Email" || got.Username != "alice" || got.Password != "hunter2" {
		t.Errorf("record = %+v, want Email/alice/hunter2", got)
	}
	if got.Sealed {
		t.Error("Sealed = true for a decryptable record")
	}
	if got.CategoryName != model.NoCategory {
		t.Errorf("CategoryName = %q, want %q", got.CategoryName, model.NoCategory)
	}
}

func TestService_EnvelopeStoredEncrypted(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newTestService(t)

	id := mustAdd(t, svc, "Bank", model.SecretFields{Username: "alice", Password: "hunter2", Notes: "pin 1234"})

	rec, err := db.FindRecord(ctx, id)
	if err != nil {
		t.Fatalf("FindRecord() error = %v", err)
	}
	if _, err := envelope.Decode(rec.Envelope); err != nil {
		t.Fatalf("stored payload is not an envelope: %v", err)
	}
	for _, secret := range []string{"alice", "hunter2", "pin 1234"} {
		if strings.Contains(rec.Envelope, secret) {
			t.Errorf("stored payload contains plaintext %q", secret)
		}
	}
}

func TestService_LockedGate(t *testing.T) {
	ctx := context.Background()
	svc, db, session := newTestService(t)
	id := mustAdd(t, svc, "Existing", model.SecretFields{Password: "p"})
	session.Logout()

	in, _ := model.NewRecordInput("New", model.SecretFields{Password: "p"})
	if _, err := svc.AddPassword(ctx, in); !errors.Is(err, model.ErrNotAuthenticated) {
		t.Errorf("AddPassword() while locked error = %v, want ErrNotAuthenticated", err)
	}
	if err := svc.UpdatePassword(ctx, id, in); !errors.Is(err, model.ErrNotAuthenticated) {
		t.Errorf("UpdatePassword() while locked error = %v, want ErrNotAuthenticated", err)
	}

	records, err := db.ListRecords(ctx, model.AllCategories)
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(records) != 1 || records[0].Title != "Existing" {
		t.Errorf("rows after locked writes = %d, want only the existing record", len(records))
	}

	// Listing still works but yields sealed views.
	views, err := svc.GetPasswords(ctx, model.AllCategories)
	if err != nil {
		t.Fatalf("GetPasswords() error = %v", err)
	}
	if len(views) != 1 || !views[0].Sealed || views[0].Password != "" {
		t.Errorf("locked view = %+v, want sealed with blank fields", views[0])
	}
	if views[0].Title != "Existing" {
		t.Errorf("Title = %q, want Existing", views[0].Title)
	}
}

func TestService_ValidationBeforeAuth(t *testing.T) {
	ctx := context.Background()
	svc, _, session := newTestService(t)
	session.Logout()

	tests := []struct {
		name string
		in   model.RecordInput
	}{
		{name: "missing title", in: model.RecordInput{Secret: model.SecretFields{Password: "p"}}},
		{name: "blank title", in: model.RecordInput{Title: "   ", Secret: model.SecretFields{Password: "p"}}},
		{name: "missing password", in: model.RecordInput{Title: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.AddPassword(ctx, tt.in); !model.IsValidation(err) {
				t.Errorf("AddPassword() error = %v, want validation error", err)
			}
		})
	}
}

func TestService_Categories(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	cats, err := svc.GetCategories(ctx)
	if err != nil {
		t.Fatalf("GetCategories() error = %v", err)
	}
	if len(cats) != 3 {
		t.Fatalf("len(GetCategories()) = %d, want 3 seeded", len(cats))
	}

	id, err := svc.AddCategory(ctx, "  Work  ")
	if err != nil {
		t.Fatalf("AddCategory() error = %v", err)
	}
	if _, err := svc.AddCategory(ctx, "WORK"); !errors.Is(err, model.ErrDuplicateCategory) {
		t.Errorf("AddCategory(duplicate) error = %v, want ErrDuplicateCategory", err)
	}
	if _, err := svc.AddCategory(ctx, "   "); !model.IsValidation(err) {
		t.Errorf("AddCategory(blank) error = %v, want validation error", err)
	}

	recID := mustAdd(t, svc, "VPN", model.SecretFields{Password: "p"}, model.WithCategory(id))
	view, err := svc.GetPassword(ctx, recID)
	if err != nil {
		t.Fatalf("GetPassword() error = %v", err)
	}
	if view.CategoryName != "Work" {
		t.Errorf("CategoryName = %q, want Work", view.CategoryName)
	}

	if err := svc.UpdateCategory(ctx, id, "Office"); err != nil {
		t.Fatalf("UpdateCategory() error = %v", err)
	}
	if view, _ = svc.GetPassword(ctx, recID); view.CategoryName != "Office" {
		t.Errorf("CategoryName after rename = %q, want Office", view.CategoryName)
	}
	if err := svc.UpdateCategory(ctx, 9999, "Nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("UpdateCategory(missing) error = %v, want ErrNotFound", err)
	}

	if err := svc.DeleteCategory(ctx, id); err != nil {
		t.Fatalf("DeleteCategory() error = %v", err)
	}
	view, err = svc.GetPassword(ctx, recID)
	if err != nil {
		t.Fatalf("GetPassword() after category delete error = %v", err)
	}
	if view.CategoryID != nil {
		t.Errorf("CategoryID = %v, want nil", *view.CategoryID)
	}
	if view.CategoryName != "Work" {
		t.Errorf("CategoryName = %q, want snapshot Work", view.CategoryName)
	}
	if view.Password != "p" {
		t.Errorf("Password = %q, want p", view.Password)
	}
}

func TestService_AddPasswordUnknownCategory(t *testing.T) {
	svc, _, _ := newTestService(t)

	in, _ := model.NewRecordInput("VPN", model.SecretFields{Password: "p"}, model.WithCategory(9999))
	if _, err := svc.AddPassword(context.Background(), in); !model.IsValidation(err) {
		t.Errorf("AddPassword() error = %v, want validation error", err)
	}
}

func TestService_GetPasswordsByCategory(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	work, _ := svc.AddCategory(ctx, "Work")
	home, _ := svc.AddCategory(ctx, "Home")
	mustAdd(t, svc, "b-work", model.SecretFields{Password: "p"}, model.WithCategory(work))
	mustAdd(t, svc, "A-work", model.SecretFields{Password: "p"}, model.WithCategory(work))
	mustAdd(t, svc, "home", model.SecretFields{Password: "p"}, model.WithCategory(home))
	mustAdd(t, svc, "loose", model.SecretFields{Password: "p"})

	views, err := svc.GetPasswords(ctx, work)
	if err != nil {
		t.Fatalf("GetPasswords() error = %v", err)
	}
	if len(views) != 2 || views[0].Title != "A-work" || views[1].Title != "b-work" {
		t.Errorf("GetPasswords(work) = %v, want [A-work b-work]", titles(views))
	}

	all, _ := svc.GetPasswords(ctx, model.AllCategories)
	if len(all) != 4 {
		t.Errorf("len(GetPasswords(all)) = %d, want 4", len(all))
	}
}

func titles(views []*model.RecordView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Title
	}
	return out
}

func TestService_SearchPasswords(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	mustAdd(t, svc, "GitHub", model.SecretFields{Password: "p", Notes: "bank"})
	mustAdd(t, svc, "GitLab", model.SecretFields{Password: "p"})
	mustAdd(t, svc, "Bank", model.SecretFields{Password: "p"})

	tests := []struct {
		query string
		want  int
	}{
		{query: "git", want: 2},
		{query: "HUB", want: 1},
		{query: "bank", want: 1}, // notes are not searched
		{query: "", want: 3},
		{query: "nothing", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := svc.SearchPasswords(ctx, tt.query)
			if err != nil {
				t.Fatalf("SearchPasswords() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("SearchPasswords(%q) = %v, want %d results", tt.query, titles(got), tt.want)
			}
		})
	}
}

func TestService_UpdateDeletePassword(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newTestService(t)
	id := mustAdd(t, svc, "Mail", model.SecretFields{Username: "alice", Password: "old"})
	before, _ := db.FindRecord(ctx, id)

	in, _ := model.NewRecordInput("Mail", model.SecretFields{Username: "alice", Password: "new"})
	if err := svc.UpdatePassword(ctx, id, in); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}
	after, _ := db.FindRecord(ctx, id)
	if after.Envelope == before.Envelope {
		t.Error("envelope unchanged after update")
	}
	view, _ := svc.GetPassword(ctx, id)
	if view.Password != "new" {
		t.Errorf("Password = %q, want new", view.Password)
	}

	if err := svc.UpdatePassword(ctx, 9999, in); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("UpdatePassword(missing) error = %v, want ErrNotFound", err)
	}

	if err := svc.DeletePassword(ctx, id); err != nil {
		t.Fatalf("DeletePassword() error = %v", err)
	}
	if _, err := svc.GetPassword(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetPassword() after delete error = %v, want ErrNotFound", err)
	}
	if err := svc.DeletePassword(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("DeletePassword(missing) error = %v, want ErrNotFound", err)
	}
}

func TestService_CorruptRowDoesNotFailListing(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newTestService(t)
	mustAdd(t, svc, "Good", model.SecretFields{Password: "p"})

	now := testutil.FixedClock().Now()
	for _, blob := range []string{"not json", `{"iv":"00","data":"00","authTag":"00"}`} {
		if _, err := db.CreateRecord(ctx, &model.SecretRecord{
			CategoryName: model.NoCategory, Title: "Bad", Envelope: blob, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			t.Fatalf("CreateRecord() error = %v", err)
		}
	}

	views, err := svc.GetPasswords(ctx, model.AllCategories)
	if err != nil {
		t.Fatalf("GetPasswords() error = %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("len(GetPasswords()) = %d, want 3", len(views))
	}
	for _, v := range views {
		if v.Title == "Bad" && !v.Sealed {
			t.Error("corrupt row not marked Sealed")
		}
		if v.Title == "Good" && (v.Sealed || v.Password != "p") {
			t.Errorf("good row = %+v, want decrypted", v)
		}
	}
}

func TestService_LegacyPlaintextRow(t *testing.T) {
	ctx := context.Background()
	svc, db, session := newTestService(t)

	now := testutil.FixedClock().Now()
	id, err := db.CreateRecord(ctx, &model.SecretRecord{
		CategoryName: model.NoCategory, Title: "Old", CreatedAt: now, UpdatedAt: now,
		Envelope: `{"username":"bob","password":"legacy"}`,
	})
	if err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}

	session.Logout()
	view, err := svc.GetPassword(ctx, id)
	if err != nil {
		t.Fatalf("GetPassword() error = %v", err)
	}
	if view.Sealed || view.Username != "bob" || view.Password != "legacy" {
		t.Errorf("legacy view = %+v, want readable plaintext", view)
	}
}

func TestService_ReencryptOnPasswordChange(t *testing.T) {
	ctx := context.Background()
	svc, db, session := newTestService(t)

	mustAdd(t, svc, "One", model.SecretFields{Password: "1"})
	mustAdd(t, svc, "Two", model.SecretFields{Password: "2"})
	now := testutil.FixedClock().Now()
	if _, err := db.CreateRecord(ctx, &model.SecretRecord{
		CategoryName: model.NoCategory, Title: "Legacy", CreatedAt: now, UpdatedAt: now,
		Envelope: `{"password":"3"}`,
	}); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if _, err := db.CreateRecord(ctx, &model.SecretRecord{
		CategoryName: model.NoCategory, Title: "Garbage", CreatedAt: now, UpdatedAt: now,
		Envelope: "garbage",
	}); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}

	var stats pm.ReencryptStats
	err := session.ChangeMasterPassword(ctx, testutil.TestMasterPassword, "N3w!Password",
		func(ctx context.Context, r pm.Resealer) error {
			var err error
			stats, err = svc.ReencryptAll(ctx, r)
			return err
		})
	if err != nil {
		t.Fatalf("ChangeMasterPassword() error = %v", err)
	}

	want := pm.ReencryptStats{Reencrypted: 2, Upgraded: 1, Skipped: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	views, err := svc.GetPasswords(ctx, model.AllCategories)
	if err != nil {
		t.Fatalf("GetPasswords() error = %v", err)
	}
	got := map[string]string{}
	for _, v := range views {
		got[v.Title] = v.Password
	}
	if got["One"] != "1" || got["Two"] != "2" || got["Legacy"] != "3" {
		t.Errorf("passwords after change = %v", got)
	}

	records, _ := db.ListRecords(ctx, model.AllCategories)
	for _, rec := range records {
		if rec.Title == "Legacy" {
			if _, err := envelope.Decode(rec.Envelope); err != nil {
				t.Errorf("legacy row not upgraded to an envelope: %v", err)
			}
		}
	}
}

// failingResealer fails to seal the second record it sees.
type failingResealer struct {
	pm.Resealer
	calls int
}

func (f *failingResealer) Seal(fields model.SecretFields) (*envelope.Envelope, error) {
	f.calls++
	if f.calls == 2 {
		return nil, errors.New("seal failed")
	}
	return f.Resealer.Seal(fields)
}

func TestService_ReencryptAllRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, db, session := newTestService(t)
	mustAdd(t, svc, "One", model.SecretFields{Password: "1"})
	mustAdd(t, svc, "Two", model.SecretFields{Password: "2"})

	before, _ := db.ListRecords(ctx, model.AllCategories)

	err := session.ChangeMasterPassword(ctx, testutil.TestMasterPassword, "N3w!Password",
		func(ctx context.Context, r pm.Resealer) error {
			_, err := svc.ReencryptAll(ctx, &failingResealer{Resealer: r})
			return err
		})
	if err == nil {
		t.Fatal("ChangeMasterPassword() expected error")
	}

	after, _ := db.ListRecords(ctx, model.AllCategories)
	for i := range before {
		if before[i].Envelope != after[i].Envelope {
			t.Errorf("record %d changed despite rollback", before[i].ID)
		}
	}

	// Old key is still in use.
	views, _ := svc.GetPasswords(ctx, model.AllCategories)
	for _, v := range views {
		if v.Sealed {
			t.Errorf("record %q unreadable after failed change", v.Title)
		}
	}
}
