package services

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"math/big"
	"math/rand/v2"

	"coffers/domain/entities"
)

const (
	// appraisal spread in percent before skill is applied
	maxAppraisalSpread = 20
	minAppraisalSpread = 2
)

// Appraisal is the result of valuing a set of gem holdings. Values beyond int64
// are capped at math.MaxInt64.
type Appraisal struct {
	IntrinsicValue int64 // catalogue value of the stones
	AdjustPercent  int   // fuzz applied, within ±Spread
	Spread         int
	Value          int64 // adjusted and rounded value offered to the player
	Unknown        []string
}

// GemLedgerService contains the pure gem holding logic. Gems are bound to the bank
// they were deposited at.
type GemLedgerService struct {
	granularity int64
}

// NewGemLedgerService creates a gem ledger rounding appraisals to granularity copper
func NewGemLedgerService(granularity int64) *GemLedgerService {
	if granularity <= 0 {
		granularity = 1
	}
	return &GemLedgerService{granularity: granularity}
}

// AddGem credits count stones of gemType at a bank, creating the holding on demand
func (s *GemLedgerService) AddGem(account *entities.Account, bankID int, gemType string, count int64) error {
	gemType = entities.NormalizeGemType(gemType)
	if bankID <= 0 {
		return fmt.Errorf("bank id must be positive, got %d: %w", bankID, entities.ErrInvalidAmount)
	}
	if gemType == "" {
		return fmt.Errorf("gem type is required: %w", entities.ErrInvalidAmount)
	}
	if count < 0 {
		return fmt.Errorf("gem count must not be negative, got %d: %w", count, entities.ErrInvalidAmount)
	}
	if count == 0 {
		return nil
	}

	if account.GemBanks == nil {
		account.GemBanks = make(map[int]entities.GemBankHolding)
	}
	holding := account.GemBanks[bankID]
	if holding == nil {
		holding = make(entities.GemBankHolding)
		account.GemBanks[bankID] = holding
	}
	if holding[gemType] > math.MaxInt64-count {
		return fmt.Errorf("adding %d %s would overflow: %w", count, gemType, entities.ErrInvalidAmount)
	}
	holding[gemType] += count
	return nil
}

// RemoveGem debits count stones of gemType at a bank. It returns false and leaves
// the account untouched when the holding is absent or too small.
func (s *GemLedgerService) RemoveGem(account *entities.Account, bankID int, gemType string, count int64) bool {
	gemType = entities.NormalizeGemType(gemType)
	if count <= 0 {
		return false
	}
	holding := account.Holding(bankID)
	if holding == nil {
		return false
	}
	have, ok := holding[gemType]
	if !ok || count > have {
		return false
	}

	if have == count {
		delete(holding, gemType)
	} else {
		holding[gemType] = have - count
	}
	if len(holding) == 0 {
		delete(account.GemBanks, bankID)
	}
	return true
}

// QueryHoldings returns a copy of the gems visible from a bank selector:
// bankID > 0 selects that bank, 0 aggregates every bank and a negative id
// aggregates every bank except |bankID|. Aggregated counts cap at MaxInt64.
func (s *GemLedgerService) QueryHoldings(account *entities.Account, bankID int) entities.GemBankHolding {
	out := make(entities.GemBankHolding)
	if bankID > 0 {
		for gem, qty := range account.Holding(bankID) {
			out[gem] = qty
		}
		return out
	}

	excluded := -bankID
	for id, holding := range account.GemBanks {
		if bankID < 0 && id == excluded {
			continue
		}
		for gem, qty := range holding {
			out[gem] = addSaturating(out[gem], qty)
		}
	}
	return out
}

// Appraise values the holdings selected by bankID. The fuzz is seeded from
// (bankID, account, skill, day) so the same appraiser gives the same answer all day.
func (s *GemLedgerService) Appraise(account *entities.Account, bankID int, skill int, day int64) Appraisal {
	var result Appraisal
	intrinsic := new(big.Int)
	for gem, qty := range s.QueryHoldings(account, bankID) {
		v, ok := entities.GemValue(gem)
		if !ok {
			result.Unknown = append(result.Unknown, gem)
			continue
		}
		intrinsic.Add(intrinsic, new(big.Int).Mul(big.NewInt(v), big.NewInt(qty)))
	}
	result.IntrinsicValue = saturate(intrinsic)

	result.Spread = AppraisalSpread(skill)
	rng := rand.New(rand.NewPCG(AppraisalSeed(bankID, account.Name, skill, day), uint64(bankID)))
	result.AdjustPercent = rng.IntN(2*result.Spread+1) - result.Spread

	adjusted := new(big.Int).Mul(intrinsic, big.NewInt(int64(100+result.AdjustPercent)))
	adjusted.Quo(adjusted, big.NewInt(100))
	if adjusted.Cmp(big.NewInt(math.MaxInt64-s.granularity)) > 0 {
		result.Value = math.MaxInt64
		return result
	}
	result.Value = roundTo(adjusted.Int64(), s.granularity)
	return result
}

// AppraisalSpread narrows the fuzz band as appraiser skill grows
func AppraisalSpread(skill int) int {
	spread := maxAppraisalSpread - skill/5
	if spread < minAppraisalSpread {
		return minAppraisalSpread
	}
	if spread > maxAppraisalSpread {
		return maxAppraisalSpread
	}
	return spread
}

// AppraisalSeed hashes the appraisal inputs into a PRNG seed
func AppraisalSeed(bankID int, accountName string, skill int, day int64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(bankID))
	h.Write(buf[:])
	h.Write([]byte(entities.NormalizeName(accountName)))
	binary.LittleEndian.PutUint64(buf[:], uint64(skill))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(day))
	h.Write(buf[:])
	return h.Sum64()
}

// roundTo rounds v to the nearest multiple of step, halves rounding up
func roundTo(v, step int64) int64 {
	if step <= 1 {
		return v
	}
	return (v + step/2) / step * step
}
