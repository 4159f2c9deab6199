package firestore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/mindease/mindease/docstore"
	"github.com/mindease/mindease/docstore/docstoretests"
	"github.com/mindease/mindease/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Requires the Firestore emulator, e.g.
//
//	gcloud emulators firestore start --host-port=localhost:8080
//	FIRESTORE_EMULATOR_HOST=localhost:8080 go test ./docstore/firestore
func TestFirestoreStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("Firestore tests skipped. Set FIRESTORE_EMULATOR_HOST to enable.")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "mindease-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	run := 0
	docstoretests.Run(t, func() (docstore.Store, string) {
		run++
		// Collections are namespaced per test since the emulator is shared.
		return New(client), fmt.Sprintf("t%d_%d_", time.Now().UnixNano(), run)
	})
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	err := translateError(status.Error(codes.NotFound, "no such document"))
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	err = translateError(status.Error(codes.Unavailable, "offline"))
	assert.Equal(t, codes.Unavailable, errors.Code(err))
}
