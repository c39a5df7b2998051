// Copyright 2024 The OSS Rebuild Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// main runs a pyrsia node: the coordinator.Service HTTP front door, backed
// by local artifact storage, a libp2p/Kademlia network client, a local
// build executor, and either an in-memory or Firestore transparency log.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	gcs "cloud.google.com/go/storage"
	"cloud.google.com/go/firestore"
	billy "github.com/go-git/go-billy/v5/osfs"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
	"github.com/ihcomega56/pyrsia/pkg/buildexec"
	"github.com/ihcomega56/pyrsia/pkg/coordinator"
	"github.com/ihcomega56/pyrsia/pkg/coordinatorapi"
	"github.com/ihcomega56/pyrsia/pkg/network"
	"github.com/ihcomega56/pyrsia/pkg/translog"
)

var (
	httpPort      = flag.Int("http-port", 8080, "port the node's HTTP front door listens on")
	assetDir      = flag.String("asset-dir", "assets", "local directory backing artifact storage")
	bucket        = flag.String("gcs-bucket", "", "if set, use this GCS bucket for artifact storage instead of asset-dir")
	firestoreProj = flag.String("firestore-project", "", "if set, use Firestore in this project for the transparency log instead of an in-memory log")
	bootstrap     = flag.String("bootstrap-peers", "", "comma-separated libp2p multiaddrs to bootstrap the DHT from")
)

func newStore(ctx context.Context) (artifact.Store, error) {
	if *bucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "creating GCS client")
		}
		return artifact.NewGCSStore(client, *bucket, "artifacts"), nil
	}
	if err := os.MkdirAll(*assetDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating asset dir %s", *assetDir)
	}
	return artifact.NewFilesystemStore(billy.New(*assetDir)), nil
}

func newLogService(ctx context.Context) (translog.Service, error) {
	if *firestoreProj == "" {
		return translog.NewMemoryService(), nil
	}
	client, err := firestore.NewClient(ctx, *firestoreProj)
	if err != nil {
		return nil, errors.Wrap(err, "creating Firestore client")
	}
	return translog.NewFirestoreService(client), nil
}

// artifactLookup answers peer RequestArtifact calls by reading straight
// out of this node's own artifact.Store, the same store GetArtifact itself
// reads from.
func artifactLookup(store artifact.Store) network.ArtifactLookup {
	return func(ctx context.Context, id artifact.ID) ([]byte, error) {
		r, err := store.Pull(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "pulling %s", id)
		}
		defer r.Close()
		return io.ReadAll(r)
	}
}

func newNetworkClient(ctx context.Context, store artifact.Store) (*network.DHTClient, error) {
	h, err := libp2p.New()
	if err != nil {
		return nil, errors.Wrap(err, "constructing libp2p host")
	}
	d, err := kaddht.New(ctx, h, kaddht.Mode(kaddht.ModeAuto))
	if err != nil {
		return nil, errors.Wrap(err, "constructing DHT")
	}
	for _, addrStr := range strings.Split(*bootstrap, ",") {
		if addrStr == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(addrStr)
		if err != nil {
			log.Printf("invalid bootstrap address %s: %v", addrStr, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Printf("invalid bootstrap peer %s: %v", addrStr, err)
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			log.Printf("failed to connect to bootstrap peer %s: %v", info.ID, err)
		}
	}
	if err := d.Bootstrap(ctx); err != nil {
		log.Printf("DHT bootstrap failed: %v", err)
	}
	log.Printf("libp2p node id: %s", h.ID())
	return network.NewDHTClient(h, d, artifactLookup(store)), nil
}

func main() {
	flag.Parse()
	ctx := context.Background()

	store, err := newStore(ctx)
	if err != nil {
		log.Fatalln(err)
	}
	logSvc, err := newLogService(ctx)
	if err != nil {
		log.Fatalln(err)
	}
	p2p, err := newNetworkClient(ctx, store)
	if err != nil {
		log.Fatalln(err)
	}
	// The actual compiler/container invocation that turns a package into
	// artifacts is an external collaborator out of scope here (spec.md
	// §1); a deployment wires a real Runner in to replace this stub.
	build := buildexec.NewLocalExecutor(func(ctx context.Context, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) (buildexec.BuildResult, error) {
		return buildexec.BuildResult{}, errors.New("no build runner configured for this node")
	})

	svc := coordinator.New(store, logSvc, build, p2p)

	if err := svc.ProvideLocalArtifacts(ctx); err != nil {
		log.Printf("failed to announce local inventory: %v", err)
	}

	log.Printf("listening on :%d", *httpPort)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *httpPort), coordinatorapi.NewMux(svc)); err != nil {
		log.Fatalln(err)
	}
}
