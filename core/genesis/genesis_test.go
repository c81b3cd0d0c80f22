package genesis

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"microescrow/crypto"
	"microescrow/host"
	"microescrow/host/hosttest"
	"microescrow/native/asset"
	"microescrow/native/escrow"
	"microescrow/native/feeaccumulator"
)

func testPrograms() map[string]host.Program {
	return map[string]host.Program{
		asset.ProgramName:          asset.New(),
		escrow.ProgramName:         escrow.New(),
		feeaccumulator.ProgramName: feeaccumulator.New(),
	}
}

func sampleManifest(t *testing.T) string {
	t.Helper()
	operator := crypto.FormatAccount([20]byte{0x01})
	admin := crypto.FormatAccount([20]byte{0x02})
	payer := crypto.FormatAccount([20]byte{0x03})
	return fmt.Sprintf(`chainId: %d
operator: %s
assets:
  - name: usdc
    symbol: usdc
    decimals: 6
    admin: %s
    balances:
      %s: "1000"
      job-1: "5"
feeAccumulators:
  - name: platform-fees
    allowedCallers: [job-1]
escrows:
  - name: job-1
    payer: %s
`, hosttest.ChainID, operator, admin, payer, payer)
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest(t)), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	m, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.Assets) != 1 || len(m.Assets[0].balances) != 2 {
		t.Fatalf("unexpected assets %+v", m.Assets)
	}
	if m.operator != ([20]byte{0x01}) {
		t.Fatalf("operator not parsed")
	}
}

func TestLoadFillsDefaultOperator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	if err := os.WriteFile(path, []byte("escrows: []\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := Load(path, ""); err == nil {
		t.Fatalf("expected missing operator to fail")
	}
	m, err := Load(path, crypto.FormatAccount([20]byte{0x09}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.operator != ([20]byte{0x09}) {
		t.Fatalf("default operator not applied")
	}
}

func TestParseRejectsInvalidManifests(t *testing.T) {
	operator := crypto.FormatAccount([20]byte{0x01})
	cases := map[string]string{
		"unknown field":     "operator: " + operator + "\nbogus: 1\n",
		"missing operator":  "assets: []\n",
		"contract operator": "operator: " + crypto.FormatContract([20]byte{0x01}) + "\n",
		"duplicate names":   "operator: " + operator + "\nescrows:\n  - name: a\n    payer: " + operator + "\nfeeAccumulators:\n  - name: a\n",
		"negative balance":  "operator: " + operator + "\nassets:\n  - name: t\n    symbol: T\n    admin: " + operator + "\n    balances:\n      " + operator + ": \"-1\"\n",
		"missing symbol":    "operator: " + operator + "\nassets:\n  - name: t\n    admin: " + operator + "\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw)); err == nil {
				t.Fatalf("expected parse error")
			}
		})
	}
}

func TestApplyDeploysManifest(t *testing.T) {
	m, err := Parse([]byte(sampleManifest(t)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f := hosttest.New(t, testPrograms())
	res, err := Apply(context.Background(), f.Host, m, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	token := res.Contracts["usdc"]
	job := res.Contracts["job-1"]
	fees := res.Contracts["platform-fees"]
	for name, addr := range res.Contracts {
		if _, err := f.Host.Contract(addr); err != nil {
			t.Fatalf("%s not deployed: %v", name, err)
		}
	}

	meta, err := asset.DecodeMetadata(f.Query(token, asset.MethodMetadata, nil))
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.Symbol != "USDC" || meta.Decimals != 6 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	bal, err := asset.DecodeAmount(f.Query(token, asset.MethodBalance, hosttest.MustEncode(t)(asset.EncodeBalance([20]byte{0x03}))))
	if err != nil || bal.Int64() != 1000 {
		t.Fatalf("payer balance %v (%v)", bal, err)
	}
	jobBal, err := asset.DecodeAmount(f.Query(token, asset.MethodBalance, hosttest.MustEncode(t)(asset.EncodeBalance(job))))
	if err != nil || jobBal.Int64() != 5 {
		t.Fatalf("escrow balance %v (%v)", jobBal, err)
	}
	if _, err := f.Host.Query(context.Background(), job, escrow.MethodGetState, nil); err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("genesis escrow must start uninitialized, got %v", err)
	}

	// The accumulator only accepts the listed escrow.
	args := hosttest.MustEncode(t)(feeaccumulator.EncodeTrackFee(bigOne()))
	if _, err := f.InvokeAs(fees, feeaccumulator.MethodTrackFee, args, [20]byte{0x05}); err == nil {
		t.Fatalf("expected allow-list to reject unknown caller")
	}
}

func TestApplyIsDeterministic(t *testing.T) {
	m, err := Parse([]byte(sampleManifest(t)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	a := hosttest.New(t, testPrograms())
	b := hosttest.New(t, testPrograms())
	if _, err := Apply(context.Background(), a.Host, m, nil); err != nil {
		t.Fatalf("apply a: %v", err)
	}
	if _, err := Apply(context.Background(), b.Host, m, nil); err != nil {
		t.Fatalf("apply b: %v", err)
	}
	if a.Host.Root() != b.Host.Root() {
		t.Fatalf("roots diverged: %s vs %s", a.Host.Root(), b.Host.Root())
	}
	if _, err := Apply(context.Background(), a.Host, m, nil); err == nil {
		t.Fatalf("expected second apply to be rejected")
	}
}

func TestApplyRejectsChainMismatch(t *testing.T) {
	m, err := Parse([]byte(sampleManifest(t)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m.ChainID = 1
	f := hosttest.New(t, testPrograms())
	if _, err := Apply(context.Background(), f.Host, m, nil); err == nil {
		t.Fatalf("expected chain id mismatch")
	}
}

func bigOne() *big.Int { return big.NewInt(1) }

func TestParseResolvesReferencesUpFront(t *testing.T) {
	operator := crypto.FormatAccount([20]byte{0x01})
	half := new(big.Int).Lsh(big.NewInt(1), 126).String()
	cases := map[string]string{
		"unknown caller": "operator: " + operator + "\nfeeAccumulators:\n  - name: fees\n    allowedCallers: [job-typo]\n",
		"unknown holder": "operator: " + operator + "\nassets:\n  - name: t\n    symbol: T\n    admin: " + operator + "\n    balances:\n      nobody: \"1\"\n",
		"supply overflow": "operator: " + operator + "\nassets:\n  - name: t\n    symbol: T\n    admin: " + operator + "\n    balances:\n      " +
			operator + ": \"" + half + "\"\n      " + crypto.FormatAccount([20]byte{0x02}) + ": \"" + half + "\"\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw)); err == nil {
				t.Fatalf("expected parse error")
			}
		})
	}
}

func TestApplyWithBadReferenceLeavesLedgerEmpty(t *testing.T) {
	m, err := Parse([]byte(sampleManifest(t)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m.FeeAccumulators[0].AllowedCallers = []string{"job-typo"}
	f := hosttest.New(t, testPrograms())
	if _, err := Apply(context.Background(), f.Host, m, nil); err == nil {
		t.Fatalf("expected unresolved caller to fail")
	}
	if h := f.Host.Height(); h != 0 {
		t.Fatalf("failed genesis committed state: height %d", h)
	}

	m.FeeAccumulators[0].AllowedCallers = []string{"job-1"}
	if _, err := Apply(context.Background(), f.Host, m, nil); err != nil {
		t.Fatalf("apply after fix: %v", err)
	}
}

func TestManifestNamesAreTrimmed(t *testing.T) {
	raw := strings.Replace(sampleManifest(t), "  - name: job-1", "  - name: \" job-1 \"", 1)
	m, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Escrows[0].Name != "job-1" {
		t.Fatalf("name not trimmed: %q", m.Escrows[0].Name)
	}
	f := hosttest.New(t, testPrograms())
	res, err := Apply(context.Background(), f.Host, m, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	job, ok := res.Contracts["job-1"]
	if !ok {
		t.Fatalf("escrow missing from result %v", res.Contracts)
	}
	want := host.ContractAddress([20]byte{0x03}, Salt("job-1"), escrow.ProgramName)
	if job != want {
		t.Fatalf("escrow at %x, want %x", job, want)
	}
}
