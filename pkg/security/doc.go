/*
Package security provides the certificate authority and on-disk certificate
handling DRMS uses for mutual TLS between manager replicas, storage-unit
services, and clients.

# Certificate authority

CertAuthority holds a self-signed root certificate and issues short-lived
leaf certificates from it:

	ca := security.NewCertAuthority(store)
	if err := ca.Initialize(); err != nil { ... } // generates the root; SaveToStore persists it

	cert, err := ca.IssueNodeCertificate(nodeID, role, dnsNames, ipAddresses)
	cert, err := ca.IssueClientCertificate(clientID)
	err = ca.VerifyCertificate(x509Cert)

The root key and certificate are stored through the manager's BoltStore
(LoadFromStore/SaveToStore), so every manager replica loads the same CA on
startup rather than minting its own.

# On-disk certificates

certs.go handles the manager's and client's local certificate directories:

	certDir, _ := security.GetCertDir("manager", nodeID)
	security.SaveCertToFile(cert, certDir)
	cert, err := security.LoadCertFromFile(certDir)

pkg/manager uses GetCertDir/CertExists/SaveCertToFile/SaveCACertToFile when a
replica first joins a cluster and needs its node certificate written to
disk; pkg/client uses LoadCertFromFile/LoadCACertFromFile to build the TLS
config it dials the dispatcher and manager with. CertNeedsRotation and
GetCertExpiry are exposed for callers that want to check a certificate's
remaining validity before reusing it; nothing in this repository schedules
rotation automatically yet.
*/
package security
