package qm

import (
	"strconv"
	"strings"
)

// parseListTable parses `qm list`'s whitespace-columned table:
// VMID NAME STATUS MEM(MB) BOOTDISK(GB) PID, plus one header row.
func parseListTable(output string) ([]ListRow, error) {
	lines := strings.Split(output, "\n")
	var rows []ListRow
	skippedHeader := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !skippedHeader {
			skippedHeader = true
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			return nil, &ParseError{Source: "qm list", Detail: "row has fewer than 6 columns: " + line}
		}
		vmid, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, &ParseError{Source: "qm list", Detail: "invalid VMID in row: " + line}
		}
		mem, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, &ParseError{Source: "qm list", Detail: "invalid MEM(MB) in row: " + line}
		}
		disk, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return nil, &ParseError{Source: "qm list", Detail: "invalid BOOTDISK(GB) in row: " + line}
		}
		pid, err := strconv.Atoi(fields[5])
		if err != nil {
			return nil, &ParseError{Source: "qm list", Detail: "invalid PID in row: " + line}
		}
		rows = append(rows, ListRow{
			VMID:       vmid,
			Name:       fields[1],
			Status:     fields[2],
			MemMB:      mem,
			BootDiskGB: disk,
			PID:        pid,
		})
	}
	return rows, nil
}

// parseConfigLines parses `qm config <id>`'s `key: value` line list,
// accumulating known scalar keys and bucketing prefixed keys by category.
// Malformed lines (no `:`) are ignored; unknown keys are ignored.
func parseConfigLines(output string) Config {
	cfg := Config{
		Scalars:   map[string]string{},
		Disks:     map[string]string{},
		Networks:  map[string]string{},
		IPConfigs: map[string]string{},
		Serial:    map[string]string{},
	}
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}

		switch {
		case scalarKeys[key]:
			cfg.Scalars[key] = value
		case hasPrefix(key, "scsi", "sata", "ide", "virtio"):
			cfg.Disks[key] = value
		case strings.HasPrefix(key, "net"):
			cfg.Networks[key] = value
		case strings.HasPrefix(key, "ipconfig"):
			cfg.IPConfigs[key] = value
		case strings.HasPrefix(key, "serial"):
			cfg.Serial[key] = value
		}
	}
	return cfg
}

func hasPrefix(key string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// parseImportDiskOutput extracts the disk reference from a line like
// "Successfully imported disk as 'unused0:local-lvm:vm-100-disk-1'",
// returning "local-lvm:vm-100-disk-1" (the leading unusedN: segment dropped).
func parseImportDiskOutput(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(strings.ToLower(line), "successfully imported disk") {
			continue
		}
		start := strings.Index(line, "'")
		end := strings.LastIndex(line, "'")
		if start < 0 || end < 0 || start >= end {
			continue
		}
		ref := line[start+1 : end]
		parts := strings.SplitN(ref, ":", 2)
		if len(parts) != 2 {
			continue
		}
		return parts[1], nil
	}
	return "", &ParseError{Source: "qm importdisk", Detail: "could not find disk reference in output: " + output}
}
