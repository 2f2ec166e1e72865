package db

import (
	"testing"
)

func TestUsePutGetDelete(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenDefault(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if err := d.Use("users"); err != nil {
		t.Fatal(err)
	}
	if err := d.Put([]byte("alice"), []byte("engineer")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := d.Get([]byte("alice"))
	if err != nil || !ok || string(v) != "engineer" {
		t.Fatalf("v=%q ok=%v err=%v", v, ok, err)
	}
	if err := d.Delete([]byte("alice")); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := d.Get([]byte("alice")); err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestGetWithoutUseFails(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenDefault(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if _, _, err := d.Get([]byte("x")); err != ErrNoActiveTable {
		t.Fatalf("got %v", err)
	}
}

// S5-style scenario: create two tables, write to each, close and reopen,
// confirm both are listed and both keep their own data.
func TestTwoTablesIsolatedAndPersisted(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenDefault(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Use("users"); err != nil {
		t.Fatal(err)
	}
	d.Put([]byte("k"), []byte("user-value"))

	if err := d.Use("orders"); err != nil {
		t.Fatal(err)
	}
	d.Put([]byte("k"), []byte("order-value"))

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenDefault(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	names, err := reopened.Tables()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "orders" || names[1] != "users" {
		t.Fatalf("got %v", names)
	}

	if err := reopened.Use("users"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := reopened.Get([]byte("k"))
	if err != nil || !ok || string(v) != "user-value" {
		t.Fatalf("v=%q ok=%v err=%v", v, ok, err)
	}

	if err := reopened.Use("orders"); err != nil {
		t.Fatal(err)
	}
	v, ok, err = reopened.Get([]byte("k"))
	if err != nil || !ok || string(v) != "order-value" {
		t.Fatalf("v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestUseUnknownTableCreatesIt(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenDefault(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if err := d.Use("fresh"); err != nil {
		t.Fatal(err)
	}
	names, err := d.Tables()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "fresh" {
		t.Fatalf("got %v", names)
	}
}

func TestReopenEmptyDatabase(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenDefault(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	reopened, err := OpenDefault(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	names, err := reopened.Tables()
	if err != nil || len(names) != 0 {
		t.Fatalf("names=%v err=%v", names, err)
	}
}
