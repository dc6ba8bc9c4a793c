//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/axleworks/api/internal/platform/config"
	pfirestore "github.com/axleworks/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type partRecord struct {
	SKU   string `firestore:"sku"`
	Stock int    `firestore:"stock"`
}

// startEmulator boots the Firestore emulator in docker and returns its
// endpoint. Skips the test when docker is not usable.
func startEmulator(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	infoCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(infoCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start emulator: %v - %s", err, out)
	}
	containerID := strings.TrimSpace(string(out))
	if containerID == "" {
		t.Fatal("docker returned an empty container id")
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(stopCtx, "docker", "stop", containerID).Run()
	})

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return endpoint
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatal("emulator did not become ready")
	return ""
}

func TestRepositoryAgainstEmulator(t *testing.T) {
	endpoint := startEmulator(t)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "axleworks-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[partRecord](provider, "parts", nil, nil)

	if _, err := repo.Set(ctx, "part-1", partRecord{SKU: "BRK-001", Stock: 4}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	doc, err := repo.Get(ctx, "part-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.ID != "part-1" || doc.Data.SKU != "BRK-001" || doc.Data.Stock != 4 {
		t.Fatalf("unexpected document: %#v", doc)
	}
	if doc.UpdateTime.IsZero() {
		t.Fatal("update time not set")
	}

	if _, err := repo.Update(ctx, "part-1", []firestore.Update{{Path: "stock", Value: 3}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	doc, err = repo.Get(ctx, "part-1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if doc.Data.Stock != 3 {
		t.Fatalf("stock = %d, want 3", doc.Data.Stock)
	}

	docs, err := repo.Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}

	_, err = repo.Get(ctx, "missing")
	var classified *pfirestore.Error
	if !errors.As(err, &classified) || !classified.IsNotFound() {
		t.Fatalf("Get missing document: %v, want a not-found classification", err)
	}

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "part-1")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var part partRecord
		if err := snap.DataTo(&part); err != nil {
			return err
		}
		part.Stock--
		return tx.Set(ref, part)
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	doc, err = repo.Get(ctx, "part-1")
	if err != nil {
		t.Fatalf("Get after transaction: %v", err)
	}
	if doc.Data.Stock != 2 {
		t.Fatalf("stock = %d, want 2", doc.Data.Stock)
	}

	cancelledCtx, cancelTx := context.WithCancel(context.Background())
	cancelTx()
	err = provider.RunTransaction(cancelledCtx, func(context.Context, *firestore.Transaction) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled transaction error = %v, want context.Canceled", err)
	}
}
