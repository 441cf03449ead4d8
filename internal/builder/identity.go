package builder

import (
	"fmt"
	"path/filepath"

	"github.com/cpm-dev/cpm/internal/builderconfig"
	"github.com/cpm-dev/cpm/internal/packet"
)

// PacketID folds name, version, build profile, the normalized source path,
// and the resolved config hash into the packet's stable identity: same
// inputs always produce the same id, bit-exact.
func PacketID(cfg builderconfig.Config, sourcePath string) string {
	normalized := filepath.ToSlash(filepath.Clean(sourcePath))
	configHash, err := cfg.ConfigHash()
	if err != nil {
		configHash = ""
	}
	return packet.FoldSHA256(fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%s", cfg.Name, cfg.Version, cfg.BuildProfile, normalized, configHash))
}
