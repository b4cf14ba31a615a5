package manager

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
	"github.com/suncumby/drms/pkg/log"
	"github.com/suncumby/drms/pkg/metrics"
	"github.com/suncumby/drms/pkg/security"
	"github.com/suncumby/drms/pkg/storage"
	"github.com/suncumby/drms/pkg/types"
)

// Manager is one replica of the SUMS storage-unit manager. It owns a
// BoltStore of storage units, sessions, and tape-group allocation state,
// replicated to its peers over Raft so that a manager that loses
// leadership still answers GetStorageUnit/ListSessions with an up to date
// view.
type Manager struct {
	nodeID string
	bindAddr string
	dataDir string

	raft *raft.Raft
	fsm *FSM
	store storage.Store
	tokenManager *TokenManager
	ca *security.CertAuthority
	logger zerolog.Logger
}

// Config holds configuration for creating a Manager.
type Config struct {
	NodeID string
	BindAddr string
	DataDir string
}

// NewManager creates a new Manager instance backed by its own BoltStore.
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	fsm := NewFSM(store)
	tokenManager := NewTokenManager()
	ca := security.NewCertAuthority(store)

	m := &Manager{
		nodeID: cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir: cfg.DataDir,
		fsm: fsm,
		store: store,
		tokenManager: tokenManager,
		ca: ca,
		logger: log.WithNodeID(cfg.NodeID),
	}

	return m, nil
}

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// Tuned well below the Hashicorp defaults (1s/1s/500ms): a SUMS
	// manager quorum sits on a LAN next to its archive host, not across
	// a WAN, so a lost leader should be re-elected in a couple of
	// seconds rather than leave open/catalog sessions stalled.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (m *Manager) newRaft() (*raft.Raft, *raft.TCPTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig(m.nodeID), m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %w", err)
	}
	return r, transport, nil
}

// Bootstrap initializes a new single-replica manager quorum.
func (m *Manager) Bootstrap() error {
	r, transport, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(m.nodeID), Address: transport.LocalAddr()},
		},
	}
	if err := m.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	if err := m.initializeCA(); err != nil {
		return fmt.Errorf("failed to initialize CA: %w", err)
	}
	m.logger.Info().Str("bind_addr", m.bindAddr).Msg("bootstrapped single-replica quorum")
	return nil
}

// Join adds this manager as a new voter of an existing quorum, contacting
// the current leader's join endpoint with a one-time token.
func (m *Manager) Join(leaderAddr string, token string) error {
	r, _, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	if err := requestJoin(leaderAddr, m.nodeID, m.bindAddr, token); err != nil {
		return fmt.Errorf("failed to join cluster: %w", err)
	}

	if err := m.ca.LoadFromStore(); err != nil {
		return fmt.Errorf("failed to load CA: %w", err)
	}
	m.logger.Info().Str("leader_addr", leaderAddr).Msg("joined existing quorum")
	return nil
}

// AddVoter adds a new manager replica to the Raft quorum. Only the leader
// may do this; a follower should forward the request instead.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}
	if err := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a manager replica from the quorum.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}
	if err := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second).Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// GetClusterServers returns the current Raft quorum membership.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this replica currently holds Raft leadership.
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current leader, or "" if
// none is known.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats reports basic Raft health for the manager status endpoint.
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}
	stats := map[string]interface{}{
		"state": m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index": m.raft.AppliedIndex(),
		"leader": string(m.raft.Leader()),
	}
	if cfgFuture := m.raft.GetConfiguration(); cfgFuture.Error() == nil {
		stats["peers"] = uint64(len(cfgFuture.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}
	return stats
}

// Apply submits a command to the Raft log and waits for it to commit.
func (m *Manager) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// CreateStorageUnit replicates a newly allocated storage unit across the
// manager quorum.
func (m *Manager) CreateStorageUnit(su *types.StorageUnit) error {
	data, err := json.Marshal(su)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "create_storage_unit", Data: data})
}

// UpdateStorageUnit replicates a storage unit's mutable fields (nfree,
// mode, retention) across the quorum.
func (m *Manager) UpdateStorageUnit(su *types.StorageUnit) error {
	data, err := json.Marshal(su)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "update_storage_unit", Data: data})
}

// DeleteStorageUnit replicates the expiry/removal of a storage unit.
func (m *Manager) DeleteStorageUnit(sunum types.SUNUM) error {
	data, err := json.Marshal(sunum)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "delete_storage_unit", Data: data})
}

// CreateSession replicates the opening of a client session.
func (m *Manager) CreateSession(sess *types.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "create_session", Data: data})
}

// DeleteSession replicates the closing of a client session.
func (m *Manager) DeleteSession(id string) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "delete_session", Data: data})
}

// UpdateTapeGroup replicates a tape group's round-robin allocation
// cursor after a storage unit has been assigned to it.
func (m *Manager) UpdateTapeGroup(state *storage.TapeGroupState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "update_tape_group", Data: data})
}

// GetStorageUnit serves a read directly from the local store. Reads are
// not routed through Raft: any replica's applied state is fresh enough
// for a storage-unit lookup, matching the leader-writes/any-replica-reads
// split the rest of the manager follows.
func (m *Manager) GetStorageUnit(sunum types.SUNUM) (*types.StorageUnit, error) {
	return m.store.GetStorageUnit(sunum)
}

// ListStorageUnitsBySeries serves a read directly from the local store.
func (m *Manager) ListStorageUnitsBySeries(series string) ([]*types.StorageUnit, error) {
	return m.store.ListStorageUnitsBySeries(series)
}

// ListStorageUnits serves a read of every known storage unit directly
// from the local store.
func (m *Manager) ListStorageUnits() ([]*types.StorageUnit, error) {
	return m.store.ListStorageUnits()
}

// ListSessions serves a read directly from the local store.
func (m *Manager) ListSessions() ([]*types.Session, error) {
	return m.store.ListSessions()
}

// GetTapeGroup serves a read directly from the local store.
func (m *Manager) GetTapeGroup(group int) (*storage.TapeGroupState, error) {
	return m.store.GetTapeGroup(group)
}

// ListTapeGroups serves a read of every tape group with recorded
// round-robin state directly from the local store.
func (m *Manager) ListTapeGroups() ([]*storage.TapeGroupState, error) {
	return m.store.ListTapeGroups()
}

// GenerateJoinToken issues a one-time token a new manager replica
// presents to Join.
func (m *Manager) GenerateJoinToken(duration time.Duration) (*JoinToken, error) {
	return m.tokenManager.GenerateToken("manager", duration)
}

// ValidateToken validates a join token.
func (m *Manager) ValidateToken(token string) (string, error) {
	return m.tokenManager.ValidateToken(token)
}

// NodeID returns this replica's Raft server ID.
func (m *Manager) NodeID() string {
	return m.nodeID
}

// Shutdown stops Raft participation and closes the local store.
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	return nil
}

// initializeCA initializes (or loads) the certificate authority used for
// mTLS between manager replicas and their clients.
func (m *Manager) initializeCA() error {
	if m.ca.IsInitialized() {
		return nil
	}
	if err := m.ca.LoadFromStore(); err == nil {
		return nil
	}

	if err := m.ca.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize CA: %w", err)
	}
	if err := m.ca.SaveToStore(); err != nil {
		return fmt.Errorf("failed to save CA: %w", err)
	}

	certDir, err := security.GetCertDir("manager", m.nodeID)
	if err != nil {
		return fmt.Errorf("failed to get cert directory: %w", err)
	}
	if security.CertExists(certDir) {
		return nil
	}

	host, _, err := net.SplitHostPort(m.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to parse bind address: %w", err)
	}
	var ipAddresses []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ipAddresses = []net.IP{ip}
	}
	dnsNames := []string{fmt.Sprintf("manager-%s", m.nodeID), "localhost"}

	cert, err := m.ca.IssueNodeCertificate(m.nodeID, "manager", dnsNames, ipAddresses)
	if err != nil {
		return fmt.Errorf("failed to issue node certificate: %w", err)
	}
	if err := security.SaveCertToFile(cert, certDir); err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}
	if err := security.SaveCACertToFile(m.ca.GetRootCACert(), certDir); err != nil {
		return fmt.Errorf("failed to save CA certificate: %w", err)
	}
	return nil
}

// IssueCertificate issues a client certificate for a session daemon or
// archive worker to use when dialing this manager.
func (m *Manager) IssueCertificate(nodeID, role string) (*tls.Certificate, error) {
	if !m.ca.IsInitialized() {
		return nil, fmt.Errorf("CA not initialized")
	}
	return m.ca.IssueNodeCertificate(nodeID, role, nil, nil)
}

// CertToPEM converts a TLS certificate to PEM-encoded cert and key bytes.
func (m *Manager) CertToPEM(cert *tls.Certificate) (certPEM, keyPEM []byte, err error) {
	if cert == nil {
		return nil, nil, fmt.Errorf("certificate is nil")
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})

	privateKey, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("private key is not RSA")
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM, nil
}

// GetCACertPEM returns the manager quorum's CA certificate, PEM-encoded.
func (m *Manager) GetCACertPEM() []byte {
	if !m.ca.IsInitialized() {
		return nil
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: m.ca.GetRootCACert()})
}
