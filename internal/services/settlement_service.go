package services

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/velopay/backend/internal/domain"
	"github.com/velopay/backend/internal/messaging"
)

// SettlementService turns finished payments into ISO 20022 messages for the
// external settlement system: pacs.008 for completed payments, pacs.002 status
// reports for failed or compensated ones. It runs as inbox-consumer handlers,
// so each payment is settled at most once regardless of event redelivery.
type SettlementService struct {
	bic  string
	send func(xmlData string) error
}

func NewSettlementService(bic string) *SettlementService {
	s := &SettlementService{bic: bic}
	s.send = s.logSend
	return s
}

func (s *SettlementService) logSend(xmlData string) error {
	// Settlement system integration point; the rendered message is logged
	// until the clearing connection is configured.
	log.Printf("[SETTLEMENT] Sending message:\n%s", xmlData)
	return nil
}

// HandleCompleted is the inbox handler for payment.completed events.
func (s *SettlementService) HandleCompleted(ctx context.Context, env messaging.Envelope) error {
	var saga domain.PaymentSaga
	if err := json.Unmarshal(env.Payload, &saga); err != nil {
		return fmt.Errorf("settlement: decode payment %s: %w", env.AggregateID, err)
	}
	doc, err := s.CreatePacs008(&saga)
	if err != nil {
		return err
	}
	return s.SendToSettlement(doc)
}

// HandleTerminated is the inbox handler for payment.failed and
// payment.compensated events.
func (s *SettlementService) HandleTerminated(ctx context.Context, env messaging.Envelope) error {
	var saga domain.PaymentSaga
	if err := json.Unmarshal(env.Payload, &saga); err != nil {
		return fmt.Errorf("settlement: decode payment %s: %w", env.AggregateID, err)
	}
	doc, err := s.CreatePacs002(&saga, "RJCT")
	if err != nil {
		return err
	}
	return s.SendToSettlement(doc)
}

func (s *SettlementService) SendToSettlement(doc any) error {
	xmlData, err := s.ToXML(doc)
	if err != nil {
		return err
	}
	return s.send(xmlData)
}

func (s *SettlementService) ToXML(doc any) (string, error) {
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal settlement message: %w", err)
	}
	return xml.Header + string(data), nil
}

// CreatePacs008 renders a FIToFICustomerCreditTransfer for a completed
// payment. The interbank settlement leg is the delivered (destination
// currency) amount.
func (s *SettlementService) CreatePacs008(saga *domain.PaymentSaga) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgID := uuid.New().String()
	now := time.Now()
	amount := saga.ToAmount().Decimal().InexactFloat64()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(saga.ToCurrency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(saga.ID)}[0],
					EndToEndId: common.Max35Text(saga.RequestID),
					TxId:       &[]common.Max35Text{common.Max35Text(saga.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(saga.ToCurrency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.bic)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(saga.FromAccountID)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.bic)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(saga.ToAccountID)}[0],
				},
			},
		},
	}
	return doc, nil
}

// CreatePacs002 renders a payment status report (ACCP, ACSC, RJCT).
func (s *SettlementService) CreatePacs002(saga *domain.PaymentSaga, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgID := uuid.New().String()
	now := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(saga.ID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(saga.RequestID)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(saga.ID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}
	return doc, nil
}
