package lib

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var (
	awsOnce   sync.Once
	awsConfig *aws.Config
	awsErr    error

	sesClient *ses.Client
	snsClient *sns.Client
)

// awsGetSdkConfig loads the default credential chain. When AWS_IAM_ROLE_ARN
// is set the role is assumed and its session credentials are used instead.
func awsGetSdkConfig() (*aws.Config, error) {
	awsOnce.Do(func() {
		cfg, err := config.LoadDefaultConfig(context.TODO())
		if err != nil {
			log.Printf("Error loading default config: %s\n", err.Error())
			awsErr = err
			return
		}
		iamRole := os.Getenv("AWS_IAM_ROLE_ARN")
		if iamRole == "" {
			awsConfig = &cfg
			return
		}
		stsClient := sts.NewFromConfig(cfg)
		output, err := stsClient.AssumeRole(context.TODO(), &sts.AssumeRoleInput{
			RoleArn:         aws.String(iamRole),
			RoleSessionName: aws.String("daypass-api"),
		})
		if err != nil {
			log.Printf("Error configuring STS client: %s\n", err.Error())
			awsErr = err
			return
		}
		creds := output.Credentials
		cfg, err = config.LoadDefaultConfig(context.TODO(), config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(*creds.AccessKeyId, *creds.SecretAccessKey, *creds.SessionToken),
		))
		if err != nil {
			log.Printf("Error configuration: %s\n", err.Error())
			awsErr = err
			return
		}
		awsConfig = &cfg
	})
	return awsConfig, awsErr
}

func AWSGetSESClient() (*ses.Client, error) {
	if sesClient != nil {
		return sesClient, nil
	}
	cfg, err := awsGetSdkConfig()
	if err != nil {
		log.Printf("Failed to initialize SES client: %s\n", err.Error())
		return nil, err
	}
	sesClient = ses.NewFromConfig(*cfg)
	return sesClient, nil
}

func AWSGetSNSClient() (*sns.Client, error) {
	if snsClient != nil {
		return snsClient, nil
	}
	cfg, err := awsGetSdkConfig()
	if err != nil {
		log.Printf("Failed to initialize SNS client: %s\n", err.Error())
		return nil, err
	}
	snsClient = sns.NewFromConfig(*cfg)
	return snsClient, nil
}
