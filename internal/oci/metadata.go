package oci

import (
	"context"
	"encoding/json"
	"fmt"
)

// MetadataSchema/MetadataSchemaVersion identify the cpm.packet.metadata
// blob shape.
const (
	MetadataSchema        = "cpm.packet.metadata"
	MetadataSchemaVersion = "1.0"
	// LegacySchema is the older shape, accepted read-only.
	LegacySchema = "cpm-oci/v1"
)

// MetadataBlobMediaType is the OCI layer media type carrying the metadata
// blob.
const MetadataBlobMediaType = "application/vnd.cpm.packet.manifest.v1+json"

// PayloadArchiveMediaType is the OCI layer media type carrying the bulk
// packet payload (cpm.yml, manifest.json, docs.jsonl, vectors.f16.bin,
// faiss/index.faiss) as a single tar+gzip archive, kept separate from the
// small metadata blob so a metadata-only lookup never touches it.
const PayloadArchiveMediaType = "application/vnd.cpm.packet.layer.v1.tar+gzip"

// PayloadFile is one entry of the metadata blob's payload.files list.
type PayloadFile struct {
	Name   string `json:"name"`
	Digest string `json:"digest,omitempty"`
	Size   *int64 `json:"size,omitempty"`
}

// PacketIdentity is the metadata blob's packet section.
type PacketIdentity struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Kind         string   `json:"kind,omitempty"`
	Entrypoints  []string `json:"entrypoints,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Compat is the metadata blob's optional compat section.
type Compat struct {
	OS            string `json:"os,omitempty"`
	Arch          string `json:"arch,omitempty"`
	CPMMinVersion string `json:"cpm_min_version,omitempty"`
}

// PayloadSection is the metadata blob's payload section.
type PayloadSection struct {
	Files   []PayloadFile `json:"files"`
	FullRef string        `json:"full_ref,omitempty"`
}

// BuildOptions records which optional build outputs were produced.
type BuildOptions struct {
	Minimal          bool `json:"minimal"`
	IncludeDocs      bool `json:"include_docs"`
	IncludeEmbeddings bool `json:"include_embeddings"`
}

// SourceSection is the metadata blob's optional source section.
type SourceSection struct {
	ManifestDigest string        `json:"manifest_digest,omitempty"`
	CreatedAt      string        `json:"created_at,omitempty"`
	Build          *BuildOptions `json:"build,omitempty"`
}

// PacketMetadata is the parsed cpm.packet.metadata v1.0 document.
type PacketMetadata struct {
	Schema        string         `json:"schema"`
	SchemaVersion string         `json:"schema_version"`
	Packet        PacketIdentity `json:"packet"`
	Compat        *Compat        `json:"compat,omitempty"`
	Payload       PayloadSection `json:"payload"`
	Source        *SourceSection `json:"source,omitempty"`
}

// Validate checks the required-field constraints from
// original_source's validate_packet_metadata.
func (m PacketMetadata) Validate() error {
	if m.Schema != MetadataSchema {
		return fmt.Errorf("oci: invalid metadata schema %q", m.Schema)
	}
	if m.SchemaVersion != MetadataSchemaVersion {
		return fmt.Errorf("oci: unsupported metadata schema_version %q", m.SchemaVersion)
	}
	if m.Packet.Name == "" {
		return fmt.Errorf("oci: metadata.packet.name is required")
	}
	if m.Packet.Version == "" {
		return fmt.Errorf("oci: metadata.packet.version is required")
	}
	for _, f := range m.Payload.Files {
		if f.Name == "" {
			return fmt.Errorf("oci: metadata.payload.files[].name is required")
		}
	}
	return nil
}

// legacyPacketMetadataV1 is the cpm-oci/v1 shape accepted read-only.
type legacyPacketMetadataV1 struct {
	Schema  string `json:"schema"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Files   []struct {
		Name   string `json:"name"`
		Digest string `json:"digest"`
	} `json:"files"`
}

// NormalizeLegacy converts a cpm-oci/v1 document into the current v1.0
// shape.
func NormalizeLegacy(legacy legacyPacketMetadataV1) PacketMetadata {
	files := make([]PayloadFile, len(legacy.Files))
	for i, f := range legacy.Files {
		files[i] = PayloadFile{Name: f.Name, Digest: f.Digest}
	}
	return PacketMetadata{
		Schema:        MetadataSchema,
		SchemaVersion: MetadataSchemaVersion,
		Packet:        PacketIdentity{Name: legacy.Name, Version: legacy.Version},
		Payload:       PayloadSection{Files: files},
	}
}

// ParseMetadataBlob parses one already-fetched blob as the current
// cpm.packet.metadata v1.0 schema; if that fails, it retries as the legacy
// cpm-oci/v1 shape and normalizes the result. This is the "try v1 media
// type -> try cpm-oci/v1 manifest shape -> give up" fallback order.
func ParseMetadataBlob(blob []byte) (PacketMetadata, error) {
	var m PacketMetadata
	if err := json.Unmarshal(blob, &m); err == nil && m.Validate() == nil {
		return m, nil
	}
	var legacy legacyPacketMetadataV1
	if err := json.Unmarshal(blob, &legacy); err == nil && legacy.Schema == LegacySchema {
		return NormalizeLegacy(legacy), nil
	}
	return PacketMetadata{}, fmt.Errorf("oci: blob matches neither %s nor %s schema", MetadataSchema, LegacySchema)
}

// FetchPacketMetadata fetches and parses the manifest's metadata blob, the
// layer whose media type is MetadataBlobMediaType. Registries still serving
// the older cpm-oci/v1 manifest shape are accepted read-only and normalized
// on the way in; a manifest with neither layer shape returns an error.
func FetchPacketMetadata(ctx context.Context, client *Client, ref Ref, manifest Manifest) (PacketMetadata, error) {
	if layer, ok := manifest.LayerByMediaType(MetadataBlobMediaType); ok {
		blob, err := client.FetchBlob(ctx, ref, layer.Digest)
		if err != nil {
			return PacketMetadata{}, err
		}
		var m PacketMetadata
		if err := json.Unmarshal(blob, &m); err != nil {
			return PacketMetadata{}, fmt.Errorf("oci: parse metadata blob: %w", err)
		}
		if err := m.Validate(); err != nil {
			return PacketMetadata{}, err
		}
		return m, nil
	}

	for _, layer := range manifest.Layers {
		blob, err := client.FetchBlob(ctx, ref, layer.Digest)
		if err != nil {
			continue
		}
		var legacy legacyPacketMetadataV1
		if err := json.Unmarshal(blob, &legacy); err != nil || legacy.Schema != LegacySchema {
			continue
		}
		return NormalizeLegacy(legacy), nil
	}

	return PacketMetadata{}, fmt.Errorf("oci: manifest has no recognizable metadata layer")
}
