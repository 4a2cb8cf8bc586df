package compat

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"chain-gateway/models"

	"google.golang.org/protobuf/encoding/protowire"
)

// pomPunishmentPeriod is the number of blocks a proof of misbehavior keeps a delegate punished.
const pomPunishmentPeriod = 780000

// field is one decoded key/value of a binary record. Varint fields fill varint, length
// delimited ones fill bytes.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// walk iterates the top-level fields of a binary record, skipping fixed-width ones.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			f.varint = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			f.bytes = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func hexPayload(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("payload is not hex: %w", err)
	}
	return b, nil
}

func hashID(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// addressFromPublicKey derives the 20-byte address of a public key.
func addressFromPublicKey(pk []byte) string {
	if len(pk) == 0 {
		return ""
	}
	sum := sha256.Sum256(pk)
	return hex.EncodeToString(sum[:20])
}

// decodeBlock decodes a block record {1: header, 2: repeated transaction}.
func decodeBlock(data []byte) (models.Block, []models.Transaction, error) {
	var (
		header []byte
		txs    []models.Transaction
	)
	err := walk(data, func(f field) error {
		switch f.num {
		case 1:
			header = f.bytes
		case 2:
			tx, err := decodeTransaction(f.bytes)
			if err != nil {
				return err
			}
			txs = append(txs, tx)
		}
		return nil
	})
	if err != nil {
		return models.Block{}, nil, err
	}
	if header == nil {
		return models.Block{}, nil, fmt.Errorf("block has no header")
	}

	block := models.Block{ID: hashID(header)}
	err = walk(header, func(f field) error {
		switch f.num {
		case 1:
			block.Version = int(f.varint)
		case 2:
			block.Timestamp = int64(f.varint)
		case 3:
			block.Height = int64(f.varint)
		case 4:
			block.PreviousBlockID = hex.EncodeToString(f.bytes)
		case 6:
			block.GeneratorPublicKey = hex.EncodeToString(f.bytes)
			block.GeneratorAddress = addressFromPublicKey(f.bytes)
		case 7:
			block.Reward = f.varint
		}
		return nil
	})
	if err != nil {
		return models.Block{}, nil, err
	}

	block.NumberOfTransactions = len(txs)
	for i := range txs {
		txs[i].BlockID = block.ID
		txs[i].Height = block.Height
		block.TotalFee += txs[i].Fee
		block.PayloadLength += txs[i].Size
	}
	return block, txs, nil
}

// decodeTransaction decodes a transaction record; its id is the hash of the full record.
func decodeTransaction(data []byte) (models.Transaction, error) {
	tx := models.Transaction{ID: hashID(data), Size: len(data)}
	err := walk(data, func(f field) error {
		switch f.num {
		case 1:
			tx.ModuleID = int(f.varint)
		case 2:
			tx.AssetID = int(f.varint)
		case 3:
			tx.Nonce = f.varint
		case 4:
			tx.Fee = f.varint
		case 5:
			tx.SenderPublicKey = hex.EncodeToString(f.bytes)
		}
		return nil
	})
	return tx, err
}

// decodeAccount decodes an account record with its token, sequence and dpos sub-records.
func decodeAccount(data []byte) (models.Account, error) {
	var acc models.Account
	err := walk(data, func(f field) error {
		switch f.num {
		case 1:
			acc.Address = hex.EncodeToString(f.bytes)
		case 2:
			return walk(f.bytes, func(t field) error {
				if t.num == 1 {
					acc.Balance = t.varint
				}
				return nil
			})
		case 3:
			return walk(f.bytes, func(s field) error {
				if s.num == 1 {
					acc.Nonce = s.varint
				}
				return nil
			})
		case 5:
			return walk(f.bytes, func(d field) error {
				if d.num == 1 {
					return decodeDelegateInfo(d.bytes, &acc)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	acc.IsDelegate = acc.Username != ""
	return acc, nil
}

func decodeDelegateInfo(data []byte, acc *models.Account) error {
	return walk(data, func(f field) error {
		switch f.num {
		case 1:
			acc.Username = string(f.bytes)
		case 2:
			// pomHeights arrive packed or one varint per field.
			if f.typ == protowire.VarintType {
				acc.PomHeights = append(acc.PomHeights, pomInterval(f.varint))
				return nil
			}
			for b := f.bytes; len(b) > 0; {
				v, n := protowire.ConsumeVarint(b)
				if n < 0 {
					return protowire.ParseError(n)
				}
				acc.PomHeights = append(acc.PomHeights, pomInterval(v))
				b = b[n:]
			}
		case 5:
			acc.IsBanned = f.varint != 0
		case 6:
			acc.Weight = f.varint
		}
		return nil
	})
}

func pomInterval(height uint64) models.PomHeight {
	return models.PomHeight{Start: int64(height), End: int64(height) + pomPunishmentPeriod}
}
