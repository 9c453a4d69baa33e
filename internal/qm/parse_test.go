package qm

import (
	"errors"
	"testing"
)

func TestParseListTableSkipsHeaderAndParsesRows(t *testing.T) {
	output := "      VMID NAME                 STATUS     MEM(MB)    BOOTDISK(GB) PID\n" +
		"       100 web                  running       2048            20    4242\n" +
		"       101 db                   stopped       1024            10       0\n"

	rows, err := parseListTable(output)
	if err != nil {
		t.Fatalf("parseListTable() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("parseListTable() = %#v, want 2 rows", rows)
	}
	if rows[0] != (ListRow{VMID: 100, Name: "web", Status: "running", MemMB: 2048, BootDiskGB: 20, PID: 4242}) {
		t.Fatalf("row 0 = %#v", rows[0])
	}
	if rows[1] != (ListRow{VMID: 101, Name: "db", Status: "stopped", MemMB: 1024, BootDiskGB: 10, PID: 0}) {
		t.Fatalf("row 1 = %#v", rows[1])
	}
}

func TestParseListTableParsesFractionalBootDisk(t *testing.T) {
	output := "VMID NAME STATUS MEM(MB) BOOTDISK(GB) PID\n" +
		"100 web running 2048 32.00 4242\n"

	rows, err := parseListTable(output)
	if err != nil {
		t.Fatalf("parseListTable() error = %v", err)
	}
	if len(rows) != 1 || rows[0].BootDiskGB != 32.00 {
		t.Fatalf("parseListTable() = %#v, want BootDiskGB 32.00", rows)
	}
}

func TestParseListTableShortRowIsParseError(t *testing.T) {
	output := "VMID NAME STATUS MEM(MB) BOOTDISK(GB) PID\n100 web running 2048\n"

	_, err := parseListTable(output)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("parseListTable() error = %v, want *ParseError", err)
	}
}

func TestParseConfigLinesBucketsByPrefix(t *testing.T) {
	output := "cores: 2\n" +
		"sockets: 1\n" +
		"memory: 2048\n" +
		"scsi0: local-lvm:vm-100-disk-1,size=20G\n" +
		"net0: virtio=AA:BB:CC:DD:EE:FF,bridge=vmbr0\n" +
		"ipconfig0: ip=dhcp\n" +
		"serial0: socket\n" +
		"unknownkey: whatever\n" +
		"malformed line with no colon\n"

	cfg := parseConfigLines(output)

	if cfg.Scalars["cores"] != "2" || cfg.Scalars["sockets"] != "1" || cfg.Scalars["memory"] != "2048" {
		t.Fatalf("scalars = %#v", cfg.Scalars)
	}
	if cfg.Disks["scsi0"] == "" {
		t.Fatalf("disks missing scsi0: %#v", cfg.Disks)
	}
	if cfg.Networks["net0"] == "" {
		t.Fatalf("networks missing net0: %#v", cfg.Networks)
	}
	if cfg.IPConfigs["ipconfig0"] == "" {
		t.Fatalf("ipconfigs missing ipconfig0: %#v", cfg.IPConfigs)
	}
	if cfg.Serial["serial0"] == "" {
		t.Fatalf("serial missing serial0: %#v", cfg.Serial)
	}
	if _, ok := cfg.Scalars["unknownkey"]; ok {
		t.Fatalf("unknown key should be ignored, got %#v", cfg.Scalars)
	}
}

func TestParseConfigLinesAllDiskPrefixes(t *testing.T) {
	output := "scsi0: a\nsata0: b\nide0: c\nvirtio0: d\n"
	cfg := parseConfigLines(output)
	for _, key := range []string{"scsi0", "sata0", "ide0", "virtio0"} {
		if _, ok := cfg.Disks[key]; !ok {
			t.Fatalf("disks missing %q: %#v", key, cfg.Disks)
		}
	}
}

func TestParseImportDiskOutput(t *testing.T) {
	cases := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{
			name:   "standard success line",
			output: "transferred 100%\nsuccessfully imported disk as 'unused0:local-lvm:vm-100-disk-1'\n",
			want:   "local-lvm:vm-100-disk-1",
		},
		{
			name:    "missing marker",
			output:  "transferred 100%\ndone\n",
			wantErr: true,
		},
		{
			name:    "marker without quotes",
			output:  "successfully imported disk as unused0:local-lvm:vm-100-disk-1\n",
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseImportDiskOutput(tc.output)
			if tc.wantErr {
				var perr *ParseError
				if !errors.As(err, &perr) {
					t.Fatalf("parseImportDiskOutput() error = %v, want *ParseError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseImportDiskOutput() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("parseImportDiskOutput() = %q, want %q", got, tc.want)
			}
		})
	}
}
