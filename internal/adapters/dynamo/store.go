package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"foodrescue/internal/domain"
	"foodrescue/internal/ports"
)

const (
	tableWait       = 2 * time.Minute
	conflictRetries = 5
)

// Tables names the three tables the store uses. Locks holds one item per
// active claim slot (requester + provider + food) and one per active
// redemption code; a Put on an existing lock cancels the claim transaction.
type Tables struct {
	Donations string
	Claims    string
	Locks     string
}

type Store struct {
	client    *dynamodb.Client
	donations string
	claims    string
	locks     string
	log       *zap.Logger
	now       func() time.Time
}

func NewStore(client *dynamodb.Client, t Tables, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, donations: t.Donations, claims: t.Claims, locks: t.Locks, log: log, now: time.Now}
}

type ddbDonation struct {
	ID                string              `dynamodbav:"id"`
	ProviderID        string              `dynamodbav:"provider_id"`
	FoodName          string              `dynamodbav:"food_name"`
	Description       string              `dynamodbav:"description,omitempty"`
	InitialQuantity   int                 `dynamodbav:"initial_quantity"`
	CurrentQuantity   int                 `dynamodbav:"current_quantity"`
	WeightGram        float64             `dynamodbav:"weight_gram"`
	Packaging         string              `dynamodbav:"packaging"`
	DeliveryMethods   []string            `dynamodbav:"delivery_methods"`
	DistributionStart time.Time           `dynamodbav:"distribution_start"`
	DistributionEnd   *time.Time          `dynamodbav:"distribution_end,omitempty"`
	Status            string              `dynamodbav:"status"`
	Audit             domain.AuditSummary `dynamodbav:"audit"`
	Impact            domain.ImpactResult `dynamodbav:"impact"`
	CreatedAt         time.Time           `dynamodbav:"created_at"`
	UpdatedAt         time.Time           `dynamodbav:"updated_at"`
}

type ddbClaim struct {
	ID                 string              `dynamodbav:"id"`
	DonationID         string              `dynamodbav:"donation_id"`
	ProviderID         string              `dynamodbav:"provider_id"`
	FoodName           string              `dynamodbav:"food_name"`
	RequesterID        string              `dynamodbav:"requester_id"`
	ClaimedQuantity    int                 `dynamodbav:"claimed_quantity"`
	ProportionalImpact domain.ImpactResult `dynamodbav:"proportional_impact"`
	UniqueCode         string              `dynamodbav:"unique_code"`
	Status             string              `dynamodbav:"status"`
	DeliveryMethod     string              `dynamodbav:"delivery_method"`
	CourierID          string              `dynamodbav:"courier_id"`
	CourierStatus      string              `dynamodbav:"courier_status"`
	CreatedAt          time.Time           `dynamodbav:"created_at"`
	CompletedAt        *time.Time          `dynamodbav:"completed_at,omitempty"`
	CancelledAt        *time.Time          `dynamodbav:"cancelled_at,omitempty"`
}

func toDDBDonation(d domain.Donation) ddbDonation {
	methods := make([]string, 0, len(d.DeliveryMethods))
	for _, m := range d.DeliveryMethods {
		methods = append(methods, string(m))
	}
	return ddbDonation{
		ID: d.ID, ProviderID: d.ProviderID, FoodName: d.FoodName, Description: d.Description,
		InitialQuantity: d.InitialQuantity, CurrentQuantity: d.CurrentQuantity, WeightGram: d.WeightGram,
		Packaging: string(d.Packaging), DeliveryMethods: methods,
		DistributionStart: d.DistributionStart, DistributionEnd: d.DistributionEnd,
		Status: string(d.Status), Audit: d.Audit, Impact: d.Impact,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

func (dd ddbDonation) toDomain() domain.Donation {
	d := domain.Donation{
		ID: dd.ID, ProviderID: dd.ProviderID, FoodName: dd.FoodName, Description: dd.Description,
		InitialQuantity: dd.InitialQuantity, CurrentQuantity: dd.CurrentQuantity, WeightGram: dd.WeightGram,
		Packaging: domain.Packaging(dd.Packaging), DeliveryMethods: make([]domain.DeliveryMethod, 0, len(dd.DeliveryMethods)),
		DistributionStart: dd.DistributionStart, DistributionEnd: dd.DistributionEnd,
		Status: domain.DonationStatus(dd.Status), Audit: dd.Audit, Impact: dd.Impact,
		CreatedAt: dd.CreatedAt, UpdatedAt: dd.UpdatedAt,
	}
	for _, m := range dd.DeliveryMethods {
		d.DeliveryMethods = append(d.DeliveryMethods, domain.DeliveryMethod(m))
	}
	// the status flip after the last unit is best effort
	if d.CurrentQuantity == 0 {
		d.Status = domain.DonationOutOfStock
	}
	return d
}

func toDDBClaim(c domain.ClaimRecord) ddbClaim {
	return ddbClaim{
		ID: c.ID, DonationID: c.DonationID, ProviderID: c.ProviderID, FoodName: c.FoodName,
		RequesterID: c.RequesterID, ClaimedQuantity: c.ClaimedQuantity, ProportionalImpact: c.ProportionalImpact,
		UniqueCode: c.UniqueCode, Status: string(c.Status), DeliveryMethod: string(c.DeliveryMethod),
		CourierID: c.CourierID, CourierStatus: string(c.CourierStatus),
		CreatedAt: c.CreatedAt, CompletedAt: c.CompletedAt, CancelledAt: c.CancelledAt,
	}
}

func (dc ddbClaim) toDomain() domain.ClaimRecord {
	return domain.ClaimRecord{
		ID: dc.ID, DonationID: dc.DonationID, ProviderID: dc.ProviderID, FoodName: dc.FoodName,
		RequesterID: dc.RequesterID, ClaimedQuantity: dc.ClaimedQuantity, ProportionalImpact: dc.ProportionalImpact,
		UniqueCode: dc.UniqueCode, Status: domain.ClaimStatus(dc.Status), DeliveryMethod: domain.DeliveryMethod(dc.DeliveryMethod),
		CourierID: dc.CourierID, CourierStatus: domain.CourierStatus(dc.CourierStatus),
		CreatedAt: dc.CreatedAt, CompletedAt: dc.CompletedAt, CancelledAt: dc.CancelledAt,
	}
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func num(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprint(n)}
}

func str(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

// filter accumulates an equality FilterExpression with placeholder names.
type filter struct {
	conds  []string
	names  map[string]string
	values map[string]types.AttributeValue
}

func (f *filter) add(attr, op string, v types.AttributeValue) {
	if f.names == nil {
		f.names = make(map[string]string)
		f.values = make(map[string]types.AttributeValue)
	}
	i := len(f.conds)
	name, ph := fmt.Sprintf("#f%d", i), fmt.Sprintf(":v%d", i)
	f.names[name] = attr
	f.values[ph] = v
	f.conds = append(f.conds, fmt.Sprintf("%s %s %s", name, op, ph))
}

func (f *filter) eq(attr, v string) {
	if v != "" {
		f.add(attr, "=", str(v))
	}
}

func (f *filter) input(table string) *dynamodb.ScanInput {
	in := &dynamodb.ScanInput{TableName: aws.String(table), ConsistentRead: aws.Bool(true)}
	if len(f.conds) > 0 {
		in.FilterExpression = aws.String(strings.Join(f.conds, " AND "))
		in.ExpressionAttributeNames = f.names
		in.ExpressionAttributeValues = f.values
	}
	return in
}

func (s *Store) scan(ctx context.Context, in *dynamodb.ScanInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(s.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb Scan failed: %w", err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// GetInventory scans the donation table. Fine for the catalogue sizes a
// single community kitchen network produces; a GSI on provider_id is the
// next step if that changes.
func (s *Store) GetInventory(ctx context.Context, f ports.InventoryFilter) ([]domain.Donation, error) {
	var fl filter
	fl.eq("provider_id", f.ProviderID)
	if f.OnlyClaimable {
		fl.add("status", "=", str(string(domain.DonationAvailable)))
		fl.add("current_quantity", ">", num(0))
	}
	items, err := s.scan(ctx, fl.input(s.donations))
	if err != nil {
		return nil, err
	}
	var rows []ddbDonation
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal donations: %w", err)
	}
	out := make([]domain.Donation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetDonation(ctx context.Context, id string) (domain.Donation, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.donations),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Donation{}, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return domain.Donation{}, ports.ErrNotFound
	}
	var dd ddbDonation
	if err := attributevalue.UnmarshalMap(out.Item, &dd); err != nil {
		return domain.Donation{}, fmt.Errorf("unmarshal donation: %w", err)
	}
	return dd.toDomain(), nil
}

func (s *Store) PublishDonation(ctx context.Context, d domain.Donation) error {
	item, err := attributevalue.MarshalMap(toDDBDonation(d))
	if err != nil {
		return fmt.Errorf("marshal donation: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.donations), Item: item})
	if err != nil {
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (s *Store) GetClaims(ctx context.Context, f ports.ClaimFilter) ([]domain.ClaimRecord, error) {
	var fl filter
	fl.eq("donation_id", f.DonationID)
	fl.eq("requester_id", f.RequesterID)
	fl.eq("provider_id", f.ProviderID)
	fl.eq("unique_code", f.Code)
	fl.eq("status", string(f.Status))
	items, err := s.scan(ctx, fl.input(s.claims))
	if err != nil {
		return nil, err
	}
	var rows []ddbClaim
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}
	out := make([]domain.ClaimRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetClaim(ctx context.Context, id string) (domain.ClaimRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.claims),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ClaimRecord{}, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return domain.ClaimRecord{}, ports.ErrNotFound
	}
	var dc ddbClaim
	if err := attributevalue.UnmarshalMap(out.Item, &dc); err != nil {
		return domain.ClaimRecord{}, fmt.Errorf("unmarshal claim: %w", err)
	}
	return dc.toDomain(), nil
}

func activeLockID(c domain.ClaimRecord) string {
	return strings.Join([]string{"active", c.RequesterID, c.ProviderID, c.FoodName}, "\x1f")
}

func codeLockID(code string) string {
	return "code\x1f" + code
}

func (s *Store) putLock(id, claimID string) *types.Put {
	return &types.Put{
		TableName: aws.String(s.locks),
		Item: map[string]types.AttributeValue{
			"id":       str(id),
			"claim_id": str(claimID),
		},
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	}
}

// transact runs TransactWriteItems, retrying when DynamoDB cancels it only
// because another transaction touched the same items.
func (s *Store) transact(ctx context.Context, in *dynamodb.TransactWriteItemsInput) error {
	var err error
	for attempt := 1; attempt <= conflictRetries; attempt++ {
		_, err = s.client.TransactWriteItems(ctx, in)
		if err == nil || !onlyConflicts(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*10) * time.Millisecond):
		}
	}
	return err
}

func cancellation(err error) []types.CancellationReason {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		return tce.CancellationReasons
	}
	return nil
}

func onlyConflicts(err error) bool {
	reasons := cancellation(err)
	conflict := false
	for _, r := range reasons {
		switch aws.ToString(r.Code) {
		case "TransactionConflict":
			conflict = true
		case "", "None":
		default:
			return false
		}
	}
	return conflict
}

func conditionFailed(reasons []types.CancellationReason, i int) bool {
	return i < len(reasons) && aws.ToString(reasons[i].Code) == "ConditionalCheckFailed"
}

// ProcessClaimTransaction decrements stock under a ConditionExpression, puts
// the claim and takes its two locks in one transaction; any failed condition
// cancels all four writes.
func (s *Store) ProcessClaimTransaction(ctx context.Context, donationID string, quantity int, claim domain.ClaimRecord) error {
	if quantity < 1 {
		return ports.ErrInsufficientStock
	}
	claim.DonationID = donationID
	claim.ClaimedQuantity = quantity
	item, err := attributevalue.MarshalMap(toDDBClaim(claim))
	if err != nil {
		return fmt.Errorf("marshal claim: %w", err)
	}
	nowAV, err := attributevalue.Marshal(s.now().UTC())
	if err != nil {
		return fmt.Errorf("marshal timestamp: %w", err)
	}

	err = s.transact(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:           aws.String(s.donations),
				Key:                 idKey(donationID),
				UpdateExpression:    aws.String("SET #qty = #qty - :q, #updated = :now"),
				ConditionExpression: aws.String("attribute_exists(id) AND #status = :available AND #qty >= :q"),
				ExpressionAttributeNames: map[string]string{
					"#qty":     "current_quantity",
					"#status":  "status",
					"#updated": "updated_at",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":q":         num(quantity),
					":now":       nowAV,
					":available": str(string(domain.DonationAvailable)),
				},
			}},
			{Put: &types.Put{
				TableName:           aws.String(s.claims),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			}},
			{Put: s.putLock(activeLockID(claim), claim.ID)},
			{Put: s.putLock(codeLockID(claim.UniqueCode), claim.ID)},
		},
	})
	if err != nil {
		reasons := cancellation(err)
		switch {
		case conditionFailed(reasons, 2):
			return ports.ErrDuplicateClaim
		case conditionFailed(reasons, 3):
			return ports.ErrCodeTaken
		case conditionFailed(reasons, 0):
			if _, gerr := s.GetDonation(ctx, donationID); errors.Is(gerr, ports.ErrNotFound) {
				return ports.ErrNotFound
			}
			return ports.ErrInsufficientStock
		}
		return fmt.Errorf("claim transaction failed: %w", err)
	}

	// The claim is committed. A failed flip only delays the status, which
	// toDomain derives from the quantity anyway.
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.donations),
		Key:                       idKey(donationID),
		UpdateExpression:          aws.String("SET #status = :oos"),
		ConditionExpression:       aws.String("#qty = :zero"),
		ExpressionAttributeNames:  map[string]string{"#status": "status", "#qty": "current_quantity"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":oos": str(string(domain.DonationOutOfStock)), ":zero": num(0)},
	})
	var ccf *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &ccf) {
		s.log.Warn("mark donation out of stock failed",
			zap.String("donation_id", donationID),
			zap.String("claim_id", claim.ID),
			zap.Error(err),
		)
	}
	return nil
}

// UpdateClaimStatus applies a conditional status change. Terminal statuses
// also release the claim's locks in the same transaction.
func (s *Store) UpdateClaimStatus(ctx context.Context, claimID string, status domain.ClaimStatus, extra ports.ClaimUpdate) error {
	at := extra.At
	if at.IsZero() {
		at = s.now().UTC()
	}
	atAV, err := attributevalue.Marshal(at)
	if err != nil {
		return fmt.Errorf("marshal timestamp: %w", err)
	}

	sets := []string{"#status = :status"}
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{":status": str(string(status))}
	conds := []string{"attribute_exists(id)"}

	if extra.CourierID != "" {
		sets = append(sets, "#courier = :courier")
		names["#courier"] = "courier_id"
		values[":courier"] = str(extra.CourierID)
	}
	if extra.CourierStatus != nil || extra.FromCourier != nil {
		names["#cstatus"] = "courier_status"
	}
	if extra.CourierStatus != nil {
		sets = append(sets, "#cstatus = :cstatus")
		values[":cstatus"] = str(string(*extra.CourierStatus))
	}
	terminal := false
	switch status {
	case domain.ClaimCompleted:
		terminal = true
		sets = append(sets, "#at = :at")
		names["#at"] = "completed_at"
		values[":at"] = atAV
	case domain.ClaimCancelled:
		terminal = true
		sets = append(sets, "#at = :at")
		names["#at"] = "cancelled_at"
		values[":at"] = atAV
	}
	if extra.From != "" {
		conds = append(conds, "#status = :from")
		values[":from"] = str(string(extra.From))
	}
	if extra.FromCourier != nil {
		conds = append(conds, "#cstatus = :fromCourier")
		values[":fromCourier"] = str(string(*extra.FromCourier))
	}

	if !terminal {
		_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                           aws.String(s.claims),
			Key:                                 idKey(claimID),
			UpdateExpression:                    aws.String("SET " + strings.Join(sets, ", ")),
			ConditionExpression:                 aws.String(strings.Join(conds, " AND ")),
			ExpressionAttributeNames:            names,
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				if len(ccf.Item) == 0 {
					return ports.ErrNotFound
				}
				return ports.ErrStaleStatus
			}
			return fmt.Errorf("update claim failed: %w", err)
		}
		return nil
	}

	c, err := s.GetClaim(ctx, claimID)
	if err != nil {
		return err
	}
	items := []types.TransactWriteItem{{Update: &types.Update{
		TableName:                           aws.String(s.claims),
		Key:                                 idKey(claimID),
		UpdateExpression:                    aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:                 aws.String(strings.Join(conds, " AND ")),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}}}
	if c.Status == domain.ClaimActive {
		for _, id := range []string{activeLockID(c), codeLockID(c.UniqueCode)} {
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName:                 aws.String(s.locks),
				Key:                       idKey(id),
				ConditionExpression:       aws.String("attribute_not_exists(id) OR claim_id = :claim"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":claim": str(claimID)},
			}})
		}
	}
	err = s.transact(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		reasons := cancellation(err)
		if conditionFailed(reasons, 0) {
			if len(reasons[0].Item) == 0 {
				return ports.ErrNotFound
			}
			return ports.ErrStaleStatus
		}
		return fmt.Errorf("update claim failed: %w", err)
	}
	return nil
}
