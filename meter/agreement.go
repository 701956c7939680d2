package meter

import (
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/pddm/config"
	"go.dedis.ch/pddm/crypto"
	"go.dedis.ch/pddm/overlay"
	"go.dedis.ch/pddm/wire"
)

// agreementController runs the two-phase Crusader Agreement (Byzantine
// variant only). Phase 1 accumulates per-proxy signatures
// over each shared contribution; Phase 2 re-verifies and propagates
// signature sets that crossed the log2N+1 threshold, so that any value
// one honest proxy accepts, every honest proxy eventually accepts too.
type agreementController struct {
	cfg *config.Config
	id int
	driver *overlay.RoundDriver
	crypter crypto.Capability
	st *state
	onEnd func()

	inPhase2 bool
}

func newAgreementController(cfg *config.Config, id int, driver *overlay.RoundDriver, crypter crypto.Capability, st *state, onEnd func()) *agreementController {
	return &agreementController{cfg: cfg, id: id, driver: driver, crypter: crypter, st: st, onEnd: onEnd}
}

// Start begins Phase 1: every proxy_value this meter holds is signed and
// sent, as a SignedValue, to all other proxies of that value.
// StartPhase must run first: it clears the driver's outgoing batch left
// over from Shuffle, which would otherwise discard the broadcasts below.
func (a *agreementController) Start() {
	a.inPhase2 = false
	a.driver.StartPhase(a.st.queryNumber, a.cfg.SecondPhaseRounds(), a)

	for _, c := range a.st.proxyValues {
		sig, err := a.crypter.RSASign(wire.EncodeValueTuple(c.Value))
		if err != nil {
			log.Lvl2("agreement: failed to sign value:", err)
			continue
		}
		sv := wire.SignedValue{Value: c, Signatures: map[int]wire.Signature{a.id: sig}}
		a.st.signedProxyValues[c.Value.Key()] = sv
		a.broadcastToOtherProxies(c.Value.Proxies, wire.OverlayMessageBody{Type: wire.BodySignedValue, Signed: &sv})
	}
}

func (a *agreementController) broadcastToOtherProxies(proxyList []int, body wire.OverlayMessageBody) {
	for _, proxy := range proxyList {
		if proxy == a.id {
			continue
		}
		path, err := overlay.FindPaths(a.id, []int{proxy}, a.cfg.N, 0)
		if err != nil {
			log.Lvl2("agreement: path finder failed for proxy", proxy, ":", err)
			continue
		}
		msg, err := overlay.BuildOnion(path[0], body, a.st.queryNumber, a.crypter)
		if err != nil {
			log.Lvl2("agreement: onion build failed for proxy", proxy, ":", err)
			continue
		}
		a.driver.Enqueue(msg)
	}
}

// HandleMessage dispatches Phase 1 SignedValues and Phase 2
// AgreementValues according to which phase is currently active.
func (a *agreementController) HandleMessage(msg wire.OverlayMessage) {
	if msg.QueryNumber != a.st.queryNumber {
		return
	}
	if !a.inPhase2 {
		a.handlePhase1(msg)
	} else {
		a.handlePhase2(msg)
	}
}

// handlePhase1 verifies the single signature a SignedValue arrives with
// and unions it into any existing entry for the same value.
func (a *agreementController) handlePhase1(msg wire.OverlayMessage) {
	if msg.Body.Type != wire.BodySignedValue || msg.Body.Signed == nil {
		return
	}
	sv := *msg.Body.Signed
	if !a.verifySingleSignature(sv) {
		log.Lvl2("agreement: dropping signed value with invalid signature")
		return
	}

	key := sv.Value.Value.Key()
	existing, ok := a.st.signedProxyValues[key]
	if !ok {
		a.st.signedProxyValues[key] = sv
		return
	}
	merged := existing.CloneSignatures()
	for id, sig := range sv.Signatures {
		merged[id] = sig
	}
	existing.Signatures = merged
	a.st.signedProxyValues[key] = existing
}

// verifySingleSignature checks the lone signer->signature pair a freshly
// constructed SignedValue carries in Phase 1.
func (a *agreementController) verifySingleSignature(sv wire.SignedValue) bool {
	payload := wire.EncodeValueTuple(sv.Value.Value)
	for signer, sig := range sv.Signatures {
		if !a.crypter.RSAVerify(payload, sig, signer) {
			return false
		}
	}
	return true
}

// handlePhase2 verifies the accepter's signature over the whole
// SignedValue, re-verifies each constituent peer signature (dropping
// invalid ones and ignoring the accepter's own), and merges the result
// if at least log2N valid peer signatures remain.
func (a *agreementController) handlePhase2(msg wire.OverlayMessage) {
	if msg.Body.Type != wire.BodyAgreementValue || msg.Body.Agreement == nil {
		return
	}
	av := *msg.Body.Agreement
	if !a.crypter.RSAVerify(wire.EncodeSignedValue(av.SignedValue), av.AccepterSignature, av.AccepterID) {
		log.Lvl2("agreement: dropping agreement value with invalid accepter signature")
		return
	}

	payload := wire.EncodeValueTuple(av.SignedValue.Value.Value)
	valid := make(map[int]wire.Signature)
	for signer, sig := range av.SignedValue.Signatures {
		if signer == av.AccepterID {
			continue
		}
		if a.crypter.RSAVerify(payload, sig, signer) {
			valid[signer] = sig
		}
	}
	if len(valid) < a.cfg.Log2N() {
		return
	}

	key := av.SignedValue.Value.Value.Key()
	existing, ok := a.st.signedProxyValues[key]
	if !ok {
		existing = wire.SignedValue{Value: av.SignedValue.Value, Signatures: map[int]wire.Signature{}}
	}
	merged := existing.CloneSignatures()
	for id, sig := range valid {
		merged[id] = sig
	}
	existing.Value = av.SignedValue.Value
	existing.Signatures = merged
	a.st.signedProxyValues[key] = existing
}

// OnPhaseEnd ends Phase 1 by promoting qualified SignedValues into
// AgreementValues and starting Phase 2, or ends Phase 2 by computing
// accepted_proxy_values and handing control back to the meter.
func (a *agreementController) OnPhaseEnd() {
	if !a.inPhase2 {
		a.endPhase1()
		return
	}
	a.endPhase2()
}

func (a *agreementController) endPhase1() {
	a.inPhase2 = true
	a.driver.StartPhase(a.st.queryNumber, a.cfg.SecondPhaseRounds(), a)

	threshold := a.cfg.Log2N() + 1
	for _, sv := range a.st.signedProxyValues {
		if len(sv.Signatures) < threshold {
			continue
		}
		sig, err := a.crypter.RSASign(wire.EncodeSignedValue(sv))
		if err != nil {
			log.Lvl2("agreement: failed to sign agreement value:", err)
			continue
		}
		av := wire.AgreementValue{SignedValue: sv, AccepterID: a.id, AccepterSignature: sig}
		a.broadcastToOtherProxies(sv.Value.Value.Proxies, wire.OverlayMessageBody{Type: wire.BodyAgreementValue, Agreement: &av})
	}
}

func (a *agreementController) endPhase2() {
	threshold := a.cfg.Log2N() + 1
	for key, sv := range a.st.signedProxyValues {
		if len(sv.Signatures) >= threshold {
			a.st.acceptedProxyValues[key] = sv.Value
		}
	}
	a.onEnd()
}
