package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/lidofinance/guardian-daemon/internal/application/blsvalidator"
	"github.com/lidofinance/guardian-daemon/internal/application/domain"
	"github.com/lidofinance/guardian-daemon/internal/application/messages"
	"github.com/lidofinance/guardian-daemon/internal/application/ports"
	"github.com/lidofinance/guardian-daemon/internal/logger"
	"github.com/lidofinance/guardian-daemon/internal/metrics"
)

// Guardian is the per-tick decision pipeline (C10): it composes C1–C9 each
// cron tick and emits deposit/pause/unvet decisions.
type Guardian struct {
	EL            ports.ELClient
	KeysAPI       ports.KeysAPIClient
	DSM           ports.DSMContract
	Signer        ports.WalletSigner
	Bus           ports.MessageBus
	DepositStore  ports.DepositEventStore
	KeyEventStore ports.SigningKeyEventStore
	Clock         ports.Clock
	Alerts        ports.AlertNotifier

	Integrity   *IntegrityChecker
	Validator   *blsvalidator.Validator
	Duplicates  *DuplicateDetector
	FrontRun    *FrontRunDetector
	BlockGuard  *BlockGuard

	DeploymentBlock       uint64
	LidoWC                domain.WithdrawalCredential
	BrokerTopic           string
	CriticalBalanceWei    uint64

	running       atomic.Bool
	pauseInFlight atomic.Bool

	mu                 sync.Mutex
	lastContractsState map[uint32]domain.ContractsState

	walletBalanceCritical atomic.Bool
}

// NewGuardian wires the pipeline's collaborators. Callers provide fully
// constructed adapters; Guardian never reaches outside its ports.
func NewGuardian(el ports.ELClient, keysAPI ports.KeysAPIClient, dsm ports.DSMContract, signer ports.WalletSigner, bus ports.MessageBus, depositStore ports.DepositEventStore, keyEventStore ports.SigningKeyEventStore, clock ports.Clock, deploymentBlock uint64, lidoWC domain.WithdrawalCredential, brokerTopic string) *Guardian {
	return &Guardian{
		EL:                 el,
		KeysAPI:            keysAPI,
		DSM:                dsm,
		Signer:             signer,
		Bus:                bus,
		DepositStore:       depositStore,
		KeyEventStore:      keyEventStore,
		Clock:              clock,
		Integrity:          NewIntegrityChecker(el),
		Validator:          blsvalidator.New(),
		Duplicates:         NewDuplicateDetector(),
		FrontRun:           NewFrontRunDetector(keysAPI),
		BlockGuard:         NewBlockGuard(),
		DeploymentBlock:    deploymentBlock,
		LidoWC:             lidoWC,
		BrokerTopic:        brokerTopic,
		CriticalBalanceWei: domain.DefaultCriticalWalletBalanceWei,
		lastContractsState: make(map[uint32]domain.ContractsState),
	}
}

// Run drives the pipeline from Clock's ticks until ctx is cancelled,
// enforcing single-shot reentrancy: a tick still in flight causes the next
// one to be skipped rather than queued.
func (g *Guardian) Run(ctx context.Context) {
	defer g.Clock.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.Clock.Tick():
			g.runTickGuarded(ctx)
		}
	}
}

// WatchWalletBalance refreshes the guardian wallet balance gauge every
// WALLET_BALANCE_UPDATE_BLOCK_RATE new blocks and flips blockData's
// walletBalanceCritical flag once the balance drops below the configured
// threshold. Run as a background goroutine alongside Run.
func (g *Guardian) WatchWalletBalance(ctx context.Context, blockRate uint64) {
	heads, err := g.EL.SubscribeNewHead(ctx)
	if err != nil {
		logger.Error("failed to subscribe to new heads for wallet balance tracking: %v", err)
		return
	}

	var seen uint64
	for {
		select {
		case <-ctx.Done():
			return
		case head, ok := <-heads:
			if !ok {
				return
			}
			seen++
			if seen%blockRate != 0 {
				continue
			}
			balance, err := g.EL.BalanceAt(ctx, g.Signer.Address(), head.Hash())
			if err != nil {
				logger.Warn("failed to refresh wallet balance: %v", err)
				continue
			}
			metrics.AccountBalance.Set(float64(balance))
			critical := balance < g.CriticalBalanceWei
			wasCritical := g.walletBalanceCritical.Swap(critical)
			if critical && !wasCritical && g.Alerts != nil {
				g.alert(g.Alerts.NotifyWalletBalanceCritical(ctx, balance))
			}
		}
	}
}

func (g *Guardian) runTickGuarded(ctx context.Context) {
	if !g.running.CompareAndSwap(false, true) {
		metrics.TicksTotal.WithLabelValues("skipped").Inc()
		logger.Debug("guardian tick skipped: previous tick still in flight")
		return
	}
	defer g.running.Store(false)

	start := time.Now()
	err := g.tick(ctx)
	metrics.TickDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.TicksTotal.WithLabelValues("aborted").Inc()
		logger.Warn("guardian tick aborted: %v", err)
		return
	}
	metrics.TicksTotal.WithLabelValues("ok").Inc()
}

// tick runs one full decision cycle. Any error aborts the tick without
// advancing BlockGuard's last-processed state, so the next tick retries.
func (g *Guardian) tick(ctx context.Context) error {
	// Step 1: fix lastChangedBlockHash from the first keys-index call.
	operatorsByModule, meta1, err := g.KeysAPI.GetOperators(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetching operators: %v", domain.ErrTransient, err)
	}

	ref := domain.BlockRef{Number: meta1.BlockNumber, Hash: meta1.BlockHash}

	// Step 3: skip if this block was already processed.
	if !g.BlockGuard.NeedsProcessing(ref) {
		return nil
	}

	// Step 4: second keys-index call, linearizability check.
	lidoKeys, meta2, err := g.KeysAPI.GetKeys(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetching keys: %v", domain.ErrTransient, err)
	}
	if meta1.LastChangedBlockHash != meta2.LastChangedBlockHash {
		return domain.ErrInconsistentState
	}

	// Step 5: update the deposit-event cache and compute this cycle's view.
	depositedEvents, err := g.refreshDepositEvents(ctx, ref)
	if err != nil {
		return err
	}

	// Step 6: assemble the per-cycle block data.
	blockData, err := g.buildBlockData(ctx, ref, depositedEvents)
	if err != nil {
		return err
	}

	// Step 7: per-module unused/vetted-unused key sets.
	moduleData := make(map[uint32]*domain.StakingModuleData, len(operatorsByModule))
	vettedUnusedByModule := make(map[uint32][]domain.RegistryKey, len(operatorsByModule))
	signingKeyEvents := make(map[common.Address][]domain.SigningKeyAddedEvent, len(operatorsByModule))

	for _, mo := range operatorsByModule {
		unused, vettedUnused := classifyKeys(mo, lidoKeys)
		moduleData[mo.Module.ID] = &domain.StakingModuleData{
			ModuleID:             mo.Module.ID,
			Nonce:                mo.Module.Nonce,
			BlockHash:            ref.Hash,
			LastChangedBlockHash: meta2.LastChangedBlockHash,
			UnusedKeys:           unused,
			VettedUnusedKeys:     vettedUnused,
		}
		vettedUnusedByModule[mo.Module.ID] = vettedUnused

		events, err := g.refreshSigningKeyEvents(ctx, mo.Module.Address, ref.Number)
		if err != nil {
			return err
		}
		signingKeyEvents[mo.Module.Address] = events
	}

	// Step 8: global duplicate pass over every vetted-unused key, including
	// keys whose deposit signature does not verify.
	duplicatesByModule := g.Duplicates.Detect(vettedUnusedByModule, signingKeyEvents)
	for moduleID, dups := range duplicatesByModule {
		if md, ok := moduleData[moduleID]; ok {
			md.DuplicatedKeys = dups
		}
	}

	// Step 9: DSM-version-gated pause broadcast.
	if err := g.handleTheftPause(ctx, ref, blockData, operatorsByModule); err != nil {
		return err
	}

	// Step 10: per-module fan-out.
	group, gctx := errgroup.WithContext(ctx)
	for _, mo := range operatorsByModule {
		mo := mo
		md := moduleData[mo.Module.ID]
		group.Go(func() error {
			return g.processModule(gctx, ref, blockData, mo, md)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	// Step 11: ping the bus.
	moduleIDs := make([]uint32, 0, len(operatorsByModule))
	for _, mo := range operatorsByModule {
		moduleIDs = append(moduleIDs, mo.Module.ID)
	}
	g.publish(ctx, messages.PingPayload{
		Kind:        messages.KindPing,
		ModuleIDs:   moduleIDs,
		BlockNumber: ref.Number,
		BlockHash:   ref.Hash.Hex(),
	})

	// Step 12: advance the block guard only on full success.
	g.BlockGuard.MarkProcessed(ref)
	return nil
}

// refreshDepositEvents pulls fresh DepositEvent
// logs since the cache's last endBlock, verifies tree integrity at both
// the finalized and latest tags, persists the extended cache, and returns
// the full set of deposited events observed so far (C3+C4).
func (g *Guardian) refreshDepositEvents(ctx context.Context, ref domain.BlockRef) ([]domain.VerifiedDepositEvent, error) {
	cache, err := g.DepositStore.GetEventsCache(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading deposit event cache: %v", domain.ErrTransient, err)
	}

	if !g.Integrity.VerifyCacheBlock(cache, ref.Number) {
		reason := fmt.Sprintf("cache endBlock %d exceeds current block %d", cache.Headers.EndBlock, ref.Number)
		metrics.IntegrityViolationsTotal.WithLabelValues("cache_regression").Inc()
		if g.Alerts != nil {
			g.alert(g.Alerts.NotifyIntegrityViolation(ctx, reason))
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrIntegrityViolation, reason)
	}

	// Re-derive the running tree from whatever the cache already covers.
	// Only the first tick after startup actually needs this: every event in
	// cache.Data from then on was already folded into the tree the tick it
	// first appeared as "fresh", so re-indexing it here would double-count it.
	g.Integrity.Seed(cache.Data)

	from := cache.Headers.EndBlock + 1
	if from < g.DeploymentBlock {
		from = g.DeploymentBlock
	}

	var fresh []domain.VerifiedDepositEvent
	for start := from; start <= ref.Number; start += domain.DepositEventsStep {
		end := start + domain.DepositEventsStep - 1
		if end > ref.Number {
			end = ref.Number
		}
		batch, err := g.EL.FilterDepositEvents(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("%w: fetching deposit events [%d,%d]: %v", domain.ErrTransient, start, end, err)
		}
		fresh = append(fresh, batch...)
	}

	if len(fresh) > 0 {
		if err := g.Integrity.VerifyFreshEvents(ctx, ref.Hash, fresh); err != nil {
			return nil, err
		}
		g.Integrity.AddEventGroupToIndex(fresh)

		finalized, err := g.EL.LatestFinalizedBlock(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: fetching finalized block: %v", domain.ErrTransient, err)
		}
		if err := g.Integrity.VerifyUpdatedEvents(ctx, finalized.Hash); err != nil {
			return nil, err
		}

		header := domain.CacheHeader{StartBlock: cache.Headers.StartBlock, EndBlock: ref.Number}
		if cache.Headers.StartBlock == 0 && cache.Headers.EndBlock == 0 {
			header.StartBlock = g.DeploymentBlock
		}
		if err := g.DepositStore.InsertEventsCacheBatch(ctx, header, fresh); err != nil {
			return nil, fmt.Errorf("%w: persisting deposit event cache: %v", domain.ErrTransient, err)
		}
	}

	return append(cache.Data, fresh...), nil
}

// refreshSigningKeyEvents implements C5: pulls fresh SigningKeyAdded logs
// for a module starting at the block after its latest persisted event (or
// at DeploymentBlock when none is stored) and appends them to the store.
func (g *Guardian) refreshSigningKeyEvents(ctx context.Context, module common.Address, toBlock uint64) ([]domain.SigningKeyAddedEvent, error) {
	existing, err := g.KeyEventStore.GetSigningKeyEvents(ctx, module)
	if err != nil {
		return nil, fmt.Errorf("%w: loading signing-key event cache: %v", domain.ErrTransient, err)
	}

	from := g.DeploymentBlock
	if len(existing) > 0 {
		last := existing[0]
		for _, e := range existing {
			if e.BlockNumber > last.BlockNumber {
				last = e
			}
		}
		from = last.BlockNumber + 1
	}
	if from > toBlock {
		return existing, nil
	}

	fresh, err := g.EL.FilterSigningKeyAddedEvents(ctx, module, from, toBlock)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching signing-key events: %v", domain.ErrTransient, err)
	}
	if len(fresh) > 0 {
		if err := g.KeyEventStore.InsertSigningKeyEvents(ctx, module, fresh); err != nil {
			return nil, fmt.Errorf("%w: persisting signing-key events: %v", domain.ErrTransient, err)
		}
	}

	return append(existing, fresh...), nil
}

// classifyKeys computes unusedKeys and vettedUnusedKeys for one module.
func classifyKeys(mo ports.ModuleOperators, allKeys []domain.RegistryKey) (unused, vettedUnused []domain.RegistryKey) {
	operatorsByIndex := make(map[uint32]domain.Operator, len(mo.Operators))
	for _, op := range mo.Operators {
		operatorsByIndex[op.Index] = op
	}

	for _, k := range allKeys {
		if k.ModuleAddress != mo.Module.Address {
			continue
		}
		if !k.Used {
			unused = append(unused, k)
		}
		op, ok := operatorsByIndex[k.OperatorIndex]
		if !ok {
			continue
		}
		if op.IsVettedUnused(k.Index) && !k.Used {
			vettedUnused = append(vettedUnused, k)
		}
	}
	return unused, vettedUnused
}

func (g *Guardian) buildBlockData(ctx context.Context, ref domain.BlockRef, depositedEvents []domain.VerifiedDepositEvent) (*domain.BlockData, error) {
	guardianAddr := g.Signer.Address()
	guardianIndex, err := g.DSM.GuardianIndex(ctx, ref.Hash, guardianAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching guardian index: %v", domain.ErrTransient, err)
	}
	version, err := g.DSM.Version(ctx, ref.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching DSM version: %v", domain.ErrTransient, err)
	}

	theftHappened, err := g.FrontRun.DetectHistorical(ctx, depositedEvents, g.LidoWC)
	if err != nil {
		return nil, err
	}
	metrics.TheftDetected.Set(boolToFloat(theftHappened))
	if theftHappened && g.Alerts != nil {
		g.alert(g.Alerts.NotifyTheftDetected(ctx, ref.Number))
	}

	depositRoot := g.Integrity.Root()

	// Under v3, pausing is protocol-global, so the moduleID=0 sentinel
	// view applies identically to every module this cycle; fetch it once
	// here so processModule doesn't repeat the same on-chain call per
	// module. Under v2 pausing is per-module and must still be checked
	// by processModule itself.
	var alreadyPaused bool
	if version >= domain.DSMVersionV3 {
		alreadyPaused, err = g.DSM.IsDepositsPaused(ctx, ref.Hash, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: checking global pause state: %v", domain.ErrTransient, err)
		}
	}

	return &domain.BlockData{
		BlockNumber:           ref.Number,
		BlockHash:             ref.Hash,
		DepositRoot:           depositRoot,
		DepositedEvents:       depositedEvents,
		GuardianAddress:       guardianAddr,
		GuardianIndex:         guardianIndex,
		LidoWC:                g.LidoWC,
		SecurityVersion:       version,
		AlreadyPausedDeposits: alreadyPaused,
		TheftHappened:         theftHappened,
		WalletBalanceCritical: g.walletBalanceCritical.Load(),
	}, nil
}

// handleTheftPause submits a pause transaction: exactly one of the v3-global
// or v2-per-module branches emits, gated by blockData.SecurityVersion.
func (g *Guardian) handleTheftPause(ctx context.Context, ref domain.BlockRef, blockData *domain.BlockData, operatorsByModule []ports.ModuleOperators) error {
	if !blockData.TheftHappened {
		return nil
	}

	if blockData.SecurityVersion >= domain.DSMVersionV3 {
		paused, err := g.DSM.IsDepositsPaused(ctx, ref.Hash, 0)
		if err != nil {
			return fmt.Errorf("%w: checking global pause state: %v", domain.ErrTransient, err)
		}
		if paused {
			return nil
		}
		prefix, err := g.DSM.PauseMessagePrefix(ctx, ref.Hash)
		if err != nil {
			return fmt.Errorf("%w: fetching pause prefix: %v", domain.ErrTransient, err)
		}
		digest, err := messages.PauseV3Digest(prefix, ref.Number)
		if err != nil {
			return err
		}
		g.signAndSubmitPause(ctx, ref, digest, nil)
		return nil
	}

	prefix, err := g.DSM.PauseMessagePrefix(ctx, ref.Hash)
	if err != nil {
		return fmt.Errorf("%w: fetching pause prefix: %v", domain.ErrTransient, err)
	}
	for _, mo := range operatorsByModule {
		moduleID := mo.Module.ID
		paused, err := g.DSM.IsDepositsPaused(ctx, ref.Hash, moduleID)
		if err != nil {
			return fmt.Errorf("%w: checking module pause state: %v", domain.ErrTransient, err)
		}
		if paused {
			continue
		}
		digest, err := messages.PauseV2Digest(prefix, ref.Number, moduleID)
		if err != nil {
			return err
		}
		g.signAndSubmitPause(ctx, ref, digest, &moduleID)
	}
	return nil
}

func (g *Guardian) signAndSubmitPause(ctx context.Context, ref domain.BlockRef, digest [32]byte, moduleID *uint32) {
	sig, err := g.Signer.SignDigest(digest)
	if err != nil {
		logger.Error("failed to sign pause message: %v", err)
		return
	}

	g.publish(ctx, messages.PausePayload{
		Kind:        messages.KindPause,
		ModuleID:    moduleID,
		BlockNumber: ref.Number,
		Guardian:    g.Signer.Address().Hex(),
		Signature:   sig.String(),
	})

	if !g.pauseInFlight.CompareAndSwap(false, true) {
		logger.Debug("pause submission already in flight, skipping duplicate on-chain call")
		return
	}
	defer g.pauseInFlight.Store(false)

	if err := g.DSM.SubmitPauseDeposits(ctx, ref.Number, moduleID, sig); err != nil {
		logger.Error("failed to submit pauseDeposits transaction: %v", err)
		return
	}
	if g.Alerts != nil {
		g.alert(g.Alerts.NotifyPauseSubmitted(ctx, moduleID, ref.Number))
	}
}

// processModule runs the unvet-or-deposit decision for a single module.
func (g *Guardian) processModule(ctx context.Context, ref domain.BlockRef, blockData *domain.BlockData, mo ports.ModuleOperators, data *domain.StakingModuleData) error {
	moduleID := mo.Module.ID

	data.FrontRunKeys = flattenModule(g.FrontRun.DetectOnChain(blockData.DepositedEvents, map[uint32][]domain.RegistryKey{moduleID: data.VettedUnusedKeys}, g.LidoWC), moduleID)
	data.InvalidKeys = g.Validator.GetInvalidKeys(data.VettedUnusedKeys, g.LidoWC)

	metrics.DuplicatedKeysTotal.WithLabelValues(moduleIDLabel(moduleID)).Set(float64(len(data.DuplicatedKeys)))
	metrics.FrontRunKeysTotal.WithLabelValues(moduleIDLabel(moduleID)).Set(float64(len(data.FrontRunKeys)))
	metrics.InvalidKeysTotal.WithLabelValues(moduleIDLabel(moduleID)).Set(float64(len(data.InvalidKeys)))

	if len(data.FrontRunKeys) > 0 || len(data.InvalidKeys) > 0 || len(data.DuplicatedKeys) > 0 {
		g.handleUnvetting(ctx, ref, mo, data)
	}

	alreadyPaused := blockData.AlreadyPausedDeposits
	if blockData.SecurityVersion < domain.DSMVersionV3 {
		var err error
		alreadyPaused, err = g.DSM.IsDepositsPaused(ctx, ref.Hash, moduleID)
		if err != nil {
			return fmt.Errorf("%w: checking module pause state: %v", domain.ErrTransient, err)
		}
	}

	canDeposit := data.CanDeposit() && !blockData.TheftHappened && !alreadyPaused
	metrics.DepositsBlocked.WithLabelValues(moduleIDLabel(moduleID)).Set(boolToFloat(!canDeposit))

	if !canDeposit {
		return nil
	}

	g.handleCorrectKeys(ctx, ref, blockData, mo, data)
	return nil
}

func (g *Guardian) handleUnvetting(ctx context.Context, ref domain.BlockRef, mo ports.ModuleOperators, data *domain.StakingModuleData) {
	toUnvet := make(map[uint32]struct{})
	for _, k := range data.FrontRunKeys {
		toUnvet[k.OperatorIndex] = struct{}{}
	}
	for _, k := range data.InvalidKeys {
		toUnvet[k.OperatorIndex] = struct{}{}
	}
	for _, k := range data.DuplicatedKeys {
		toUnvet[k.OperatorIndex] = struct{}{}
	}
	if len(toUnvet) == 0 {
		return
	}

	minSuspectIndex := make(map[uint32]uint32)
	trackMin := func(k domain.RegistryKey) {
		cur, ok := minSuspectIndex[k.OperatorIndex]
		if !ok || k.Index < cur {
			minSuspectIndex[k.OperatorIndex] = k.Index
		}
	}
	for _, k := range data.FrontRunKeys {
		trackMin(k)
	}
	for _, k := range data.InvalidKeys {
		trackMin(k)
	}
	for _, k := range data.DuplicatedKeys {
		trackMin(k)
	}

	operatorIDs := make([]uint32, 0, len(toUnvet))
	vettedCounts := make([]uint64, 0, len(toUnvet))
	for _, op := range mo.Operators {
		if _, ok := toUnvet[op.Index]; !ok {
			continue
		}
		newVetted := op.StakingLimit
		if minIndex, ok := minSuspectIndex[op.Index]; ok {
			// Pull the vetted window back to the earliest suspect key's
			// index, so the key no longer counts as vetted-unused.
			newVetted = uint64(minIndex)
			if newVetted > op.StakingLimit {
				newVetted = op.StakingLimit
			}
		}
		operatorIDs = append(operatorIDs, op.Index)
		vettedCounts = append(vettedCounts, newVetted)
	}

	operatorIDsPacked := messages.EncodeOperatorIDs(operatorIDs)
	vettedCountsPacked := messages.EncodeVettedCounts(vettedCounts)

	prefix, err := g.DSM.UnvetMessagePrefix(ctx, ref.Hash)
	if err != nil {
		logger.Error("failed to fetch unvet prefix for module %d: %v", mo.Module.ID, err)
		return
	}
	digest, err := messages.UnvetDigest(prefix, ref.Number, ref.Hash, mo.Module.ID, mo.Module.Nonce, operatorIDsPacked, vettedCountsPacked)
	if err != nil {
		logger.Error("failed to build unvet digest for module %d: %v", mo.Module.ID, err)
		return
	}
	sig, err := g.Signer.SignDigest(digest)
	if err != nil {
		logger.Error("failed to sign unvet message for module %d: %v", mo.Module.ID, err)
		return
	}

	g.publish(ctx, messages.UnvetPayload{
		Kind:                 messages.KindUnvet,
		ModuleID:             mo.Module.ID,
		BlockNumber:          ref.Number,
		BlockHash:            ref.Hash.Hex(),
		Nonce:                mo.Module.Nonce,
		OperatorIDs:          common.Bytes2Hex(operatorIDsPacked),
		VettedKeysByOperator: common.Bytes2Hex(vettedCountsPacked),
		Guardian:             g.Signer.Address().Hex(),
		Signature:            sig.String(),
	})

	if err := g.DSM.SubmitUnvetSigningKeys(ctx, mo.Module.ID, ref.Number, ref.Hash, mo.Module.Nonce, operatorIDsPacked, vettedCountsPacked, sig); err != nil {
		logger.Error("failed to submit unvetSigningKeys for module %d: %v", mo.Module.ID, err)
	}
}

// handleCorrectKeys signs and publishes a deposit attestation, gated by
// the re-signing window so an unchanged module isn't re-signed every tick.
func (g *Guardian) handleCorrectKeys(ctx context.Context, ref domain.BlockRef, blockData *domain.BlockData, mo ports.ModuleOperators, data *domain.StakingModuleData) {
	current := domain.ContractsState{
		DepositRoot:          blockData.DepositRoot,
		Nonce:                mo.Module.Nonce,
		BlockNumber:          ref.Number,
		LastChangedBlockHash: data.LastChangedBlockHash,
	}

	g.mu.Lock()
	last, seen := g.lastContractsState[mo.Module.ID]
	unchanged := seen && last.Equal(current)
	g.lastContractsState[mo.Module.ID] = current
	g.mu.Unlock()

	if unchanged {
		return
	}

	prefix, err := g.DSM.AttestMessagePrefix(ctx, ref.Hash)
	if err != nil {
		logger.Error("failed to fetch attest prefix for module %d: %v", mo.Module.ID, err)
		return
	}
	digest, err := messages.DepositDigest(prefix, ref.Number, ref.Hash, blockData.DepositRoot, mo.Module.ID, mo.Module.Nonce)
	if err != nil {
		logger.Error("failed to build deposit digest for module %d: %v", mo.Module.ID, err)
		return
	}
	sig, err := g.Signer.SignDigest(digest)
	if err != nil {
		logger.Error("failed to sign deposit message for module %d: %v", mo.Module.ID, err)
		return
	}

	g.publish(ctx, messages.DepositPayload{
		Kind:        messages.KindDeposit,
		ModuleID:    mo.Module.ID,
		BlockNumber: ref.Number,
		BlockHash:   ref.Hash.Hex(),
		DepositRoot: blockData.DepositRoot.String(),
		KeysOpIndex: mo.Module.Nonce,
		Guardian:    g.Signer.Address().Hex(),
		Signature:   sig.String(),
	})
}

// alert forwards an operator-facing notification through Alerts, if one is
// configured; Alerts is optional and nil by default.
func (g *Guardian) alert(err error) {
	if err != nil {
		logger.Error("failed to send operator alert: %v", err)
	}
}

func (g *Guardian) publish(ctx context.Context, payload any) {
	if err := g.Bus.Publish(ctx, g.BrokerTopic, payload); err != nil {
		logger.Error("failed to publish message to bus: %v", err)
	}
}

func flattenModule(byModule map[uint32][]domain.RegistryKey, moduleID uint32) []domain.RegistryKey {
	return byModule[moduleID]
}

func moduleIDLabel(id uint32) string { return fmt.Sprintf("%d", id) }

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
