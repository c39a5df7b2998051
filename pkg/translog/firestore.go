// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package translog

import (
	"context"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
)

// FirestoreService persists transparency log entries and the
// authorized-node set in Firestore, mirroring the teacher's own
// FirestoreClient.Collection(...).Doc(...).Set(ctx, ...) usage in
// internal/api/apiservice/rebuild.go. Collection layout:
//
//	ecosystem/{type}/packages/{pkgID}/artifacts/{artifactID}
//	nodes/authorized (single doc, field "peers")
type FirestoreService struct {
	client *firestore.Client
}

// NewFirestoreService wraps an existing Firestore client.
func NewFirestoreService(client *firestore.Client) *FirestoreService {
	return &FirestoreService{client: client}
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "/", "!")
}

type entryDoc struct {
	ArtifactID              string `firestore:"artifact_id"`
	PackageType             string `firestore:"package_type"`
	PackageSpecificID       string `firestore:"package_specific_id"`
	PackageSpecificArtifact string `firestore:"package_specific_artifact_id"`
	ArtifactHash            string `firestore:"artifact_hash"`
	NumArtifacts            int    `firestore:"num_artifacts"`
}

func (s *FirestoreService) artifactsCollection(pkgType artifact.PackageType, pkgID artifact.PackageSpecificID) *firestore.CollectionRef {
	return s.client.Collection("ecosystem").Doc(string(pkgType)).Collection("packages").Doc(sanitize(string(pkgID))).Collection("artifacts")
}

// AddArtifact commits a new entry keyed by (pkgType, pkgID, artifactSpecificID).
func (s *FirestoreService) AddArtifact(ctx context.Context, req AddArtifactRequest) (Entry, []byte, error) {
	docs, err := s.artifactsCollection(req.PackageType, req.PackageSpecificID).
		Where("package_specific_artifact_id", "==", string(req.PackageSpecificArtifact)).
		Documents(ctx).GetAll()
	if err != nil {
		return Entry{}, nil, errors.Wrap(err, "checking for existing entry")
	}
	if len(docs) > 0 {
		return Entry{}, nil, errors.Wrapf(ErrAlreadyExists, "artifact %s/%s", req.PackageType, req.PackageSpecificArtifact)
	}
	entry := Entry{
		ArtifactID:              artifact.ID(sanitize(string(req.PackageSpecificArtifact)) + "@" + string(req.PackageType)),
		PackageType:             req.PackageType,
		PackageSpecificID:       req.PackageSpecificID,
		PackageSpecificArtifact: req.PackageSpecificArtifact,
		ArtifactHash:            req.ArtifactHash,
		NumArtifacts:            req.NumArtifacts,
	}
	doc := s.artifactsCollection(req.PackageType, req.PackageSpecificID).Doc(sanitize(string(entry.ArtifactID)))
	if _, err := doc.Set(ctx, entryDoc{
		ArtifactID:              string(entry.ArtifactID),
		PackageType:             string(entry.PackageType),
		PackageSpecificID:       string(entry.PackageSpecificID),
		PackageSpecificArtifact: string(entry.PackageSpecificArtifact),
		ArtifactHash:            string(entry.ArtifactHash),
		NumArtifacts:            entry.NumArtifacts,
	}); err != nil {
		return Entry{}, nil, errors.Wrap(err, "writing transparency log entry")
	}
	payload, err := MarshalEntry(entry)
	if err != nil {
		return Entry{}, nil, err
	}
	return entry, payload, nil
}

// GetArtifact looks up the entry by package-specific artifact id.
func (s *FirestoreService) GetArtifact(ctx context.Context, pkgType artifact.PackageType, pkgSpecificArtifactID artifact.PackageSpecificArtifactID) (Entry, error) {
	iter := s.client.CollectionGroup("artifacts").
		Where("package_type", "==", string(pkgType)).
		Where("package_specific_artifact_id", "==", string(pkgSpecificArtifactID)).
		Limit(1).Documents(ctx)
	docs, err := iter.GetAll()
	if err != nil {
		return Entry{}, errors.Wrap(err, "querying transparency log")
	}
	if len(docs) == 0 {
		return Entry{}, errors.Wrapf(ErrNotFound, "%s/%s", pkgType, pkgSpecificArtifactID)
	}
	var d entryDoc
	if err := docs[0].DataTo(&d); err != nil {
		return Entry{}, errors.Wrap(err, "decoding transparency log entry")
	}
	return Entry{
		ArtifactID:              artifact.ID(d.ArtifactID),
		PackageType:             artifact.PackageType(d.PackageType),
		PackageSpecificID:       artifact.PackageSpecificID(d.PackageSpecificID),
		PackageSpecificArtifact: artifact.PackageSpecificArtifactID(d.PackageSpecificArtifact),
		ArtifactHash:            artifact.Hash(d.ArtifactHash),
		NumArtifacts:            d.NumArtifacts,
	}, nil
}

// SearchTransparencyLogs returns every entry recorded for a package.
func (s *FirestoreService) SearchTransparencyLogs(ctx context.Context, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) ([]Entry, error) {
	docs, err := s.artifactsCollection(pkgType, pkgSpecificID).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Wrap(err, "querying transparency log")
	}
	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		var d entryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, errors.Wrap(err, "decoding transparency log entry")
		}
		entries = append(entries, Entry{
			ArtifactID:              artifact.ID(d.ArtifactID),
			PackageType:             artifact.PackageType(d.PackageType),
			PackageSpecificID:       artifact.PackageSpecificID(d.PackageSpecificID),
			PackageSpecificArtifact: artifact.PackageSpecificArtifactID(d.PackageSpecificArtifact),
			ArtifactHash:            artifact.Hash(d.ArtifactHash),
			NumArtifacts:            d.NumArtifacts,
		})
	}
	return entries, nil
}

// VerifyPackageCanBeAdded returns ErrAlreadyExists if any entry already
// exists for this package.
func (s *FirestoreService) VerifyPackageCanBeAdded(ctx context.Context, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) error {
	docs, err := s.artifactsCollection(pkgType, pkgSpecificID).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return errors.Wrap(err, "querying transparency log")
	}
	if len(docs) > 0 {
		return errors.Wrapf(ErrAlreadyExists, "%s/%s", pkgType, pkgSpecificID)
	}
	return nil
}

type authorizedNodesDoc struct {
	Peers []string `firestore:"peers"`
}

func (s *FirestoreService) authorizedDoc() *firestore.DocumentRef {
	return s.client.Collection("nodes").Doc("authorized")
}

// GetAuthorizedNodes reads the current authorized-node set fresh from Firestore.
func (s *FirestoreService) GetAuthorizedNodes(ctx context.Context) ([]peer.ID, error) {
	snap, err := s.authorizedDoc().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading authorized nodes")
	}
	var d authorizedNodesDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, errors.Wrap(err, "decoding authorized nodes")
	}
	out := make([]peer.ID, 0, len(d.Peers))
	for _, s := range d.Peers {
		p, err := peer.Decode(s)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding peer id %q", s)
		}
		out = append(out, p)
	}
	return out, nil
}

// AddAuthorizedNode appends p to the authorized-node set.
func (s *FirestoreService) AddAuthorizedNode(ctx context.Context, p peer.ID) error {
	existing, err := s.GetAuthorizedNodes(ctx)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e == p {
			return nil
		}
	}
	peers := make([]string, 0, len(existing)+1)
	for _, e := range existing {
		peers = append(peers, e.String())
	}
	peers = append(peers, p.String())
	_, err = s.authorizedDoc().Set(ctx, authorizedNodesDoc{Peers: peers})
	return errors.Wrap(err, "writing authorized nodes")
}

// WriteIfNotExists idempotently writes e, keyed by its ArtifactID.
func (s *FirestoreService) WriteIfNotExists(ctx context.Context, e Entry) error {
	doc := s.artifactsCollection(e.PackageType, e.PackageSpecificID).Doc(sanitize(string(e.ArtifactID)))
	_, err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(doc); err == nil {
			return nil
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		return tx.Set(doc, entryDoc{
			ArtifactID:              string(e.ArtifactID),
			PackageType:             string(e.PackageType),
			PackageSpecificID:       string(e.PackageSpecificID),
			PackageSpecificArtifact: string(e.PackageSpecificArtifact),
			ArtifactHash:            string(e.ArtifactHash),
			NumArtifacts:            e.NumArtifacts,
		})
	})
	return errors.Wrap(err, "write_if_not_exists")
}

// BroadcastArtifacts is a no-op at the storage layer; broadcasting is a
// network-client concern out of scope for the log collaborator itself.
func (s *FirestoreService) BroadcastArtifacts(ctx context.Context, payloads [][]byte) error {
	return nil
}

var _ Service = &FirestoreService{}
